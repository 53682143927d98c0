package database

import (
	"edurank_backend/internal/config"
	"edurank_backend/internal/model"
	"fmt"
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg *config.DatabaseConfig, migrate bool) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=Local",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})

	if err != nil {
		return nil, err
	}

	log.Println("Database connection established")

	if !migrate {
		return db, nil
	}

	err = db.AutoMigrate(
		&model.Learner{},
		&model.Unit{},
		&model.Subject{},
		&model.LearnerAggregate{},
		&model.UnitKPI{},
		&model.SubjectKPI{},
		&model.PositionEntry{},
	)

	if err != nil {
		return nil, err
	}

	log.Println("Database migration completed")

	// 空库时插入演示学科目录，方便本地联调
	var count int64
	db.Model(&model.Subject{}).Count(&count)
	if count == 0 {
		defaultSubjects := []model.Subject{
			{DisplayName: "数学"},
			{DisplayName: "物理"},
			{DisplayName: "英语"},
			{DisplayName: "计算机基础"},
		}
		for _, s := range defaultSubjects {
			db.Create(&s)
		}
	}

	return db, nil
}
