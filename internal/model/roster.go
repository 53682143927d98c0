package model

// Learner 机构学员名册条目，由账号子系统同步过来
type Learner struct {
	UUIDBase
	InstitutionID string `gorm:"size:36;index;not null" json:"institutionId"`
	DisplayName   string `gorm:"size:100;not null" json:"displayName"`
}

func (Learner) TableName() string {
	return "learners"
}

// Unit 学习单元（源领域中的"笔记本"），归属于某个学员
type Unit struct {
	UUIDBase
	OwnerID     string  `gorm:"size:36;index;not null" json:"ownerId"`
	SubjectID   *string `gorm:"size:36;index" json:"subjectId,omitempty"`
	DisplayName string  `gorm:"size:100;not null" json:"displayName"`
}

func (Unit) TableName() string {
	return "units"
}

// Subject 学科，多个学习单元的分组
type Subject struct {
	UUIDBase
	DisplayName string `gorm:"size:100;not null" json:"displayName"`
}

func (Subject) TableName() string {
	return "subjects"
}
