package models

import (
	"strings"
	"time"
)

// Category tool category
type Category struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"size:50;not null" json:"name"`
	Slug        string    `gorm:"size:50;not null;uniqueIndex" json:"slug"`
	Description string    `gorm:"size:200" json:"description,omitempty"`
	Icon        string    `gorm:"size:100" json:"icon,omitempty"`
	Sort        int       `gorm:"default:0" json:"sort"`
	IsActive    bool      `gorm:"default:true;index" json:"isActive"`
	ToolCount   int       `gorm:"default:0" json:"toolCount"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName table name
func (Category) TableName() string {
	return "categories"
}

// Tool catalog entry. Category is the joined record and is always set on reads.
type Tool struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string     `gorm:"size:100;not null" json:"name"`
	Description string     `gorm:"size:500;not null" json:"description"`
	URL         string     `gorm:"size:500;not null" json:"url"`
	CategoryID  int64      `gorm:"not null;index" json:"categoryId"`
	Category    *Category  `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	Logo        string     `gorm:"size:200" json:"logo,omitempty"`
	Rating      float64    `gorm:"default:0" json:"rating"`
	RatingCount int        `gorm:"default:0" json:"ratingCount"`
	IsActive    bool       `gorm:"default:true;index" json:"isActive"`
	IsFeatured  bool       `gorm:"default:false;index" json:"isFeatured"`
	Tags        []string   `gorm:"serializer:json;type:text" json:"tags"`
	Developer   string     `gorm:"size:100" json:"developer,omitempty"`
	Pricing     string     `gorm:"column:pricing;size:50" json:"price,omitempty"`
	Platforms   []string   `gorm:"serializer:json;type:text" json:"platforms,omitempty"`
	LaunchDate  *time.Time `json:"launchDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TableName table name
func (Tool) TableName() string {
	return "tools"
}

// HasTag reports whether the tool carries tag, ignoring case.
func (t *Tool) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if strings.EqualFold(tg, tag) {
			return true
		}
	}
	return false
}

// User back-office account
type User struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"size:50;not null;uniqueIndex" json:"username"`
	Email        string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"size:255" json:"-"`
	Role         string    `gorm:"size:20;default:user;index" json:"role"`
	IsActive     bool      `gorm:"default:true" json:"isActive"`
	Avatar       string    `gorm:"size:500" json:"avatar,omitempty"`
	Bio          string    `gorm:"type:text" json:"bio,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName table name
func (User) TableName() string {
	return "users"
}

// SearchLog one recorded search
type SearchLog struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Query       string    `gorm:"size:255;not null;index" json:"query"`
	UserID      *int64    `json:"userId,omitempty"`
	ResultCount int       `gorm:"default:0" json:"resultCount"`
	IPAddress   string    `gorm:"size:45" json:"ipAddress,omitempty"`
	UserAgent   string    `gorm:"type:text" json:"userAgent,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TableName table name
func (SearchLog) TableName() string {
	return "search_logs"
}

// VisitStat one recorded tool view
type VisitStat struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ToolID    int64     `gorm:"index" json:"toolId"`
	UserID    *int64    `json:"userId,omitempty"`
	IPAddress string    `gorm:"size:45" json:"ipAddress,omitempty"`
	UserAgent string    `gorm:"type:text" json:"userAgent,omitempty"`
	Referrer  string    `gorm:"size:500" json:"referrer,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TableName table name
func (VisitStat) TableName() string {
	return "visit_stats"
}

// DashboardStats back-office summary
type DashboardStats struct {
	TotalTools      int     `json:"totalTools"`
	ActiveTools     int     `json:"activeTools"`
	PendingTools    int     `json:"pendingTools"`
	TotalCategories int     `json:"totalCategories"`
	TotalUsers      int     `json:"totalUsers"`
	DailyVisitors   int64   `json:"dailyVisitors"`
	ActiveUsers     int     `json:"activeUsers"`
	SearchesToday   int64   `json:"searchesToday"`
	ToolsGrowth     float64 `json:"toolsGrowth"`
	VisitorsGrowth  float64 `json:"visitorsGrowth"`
	UsersGrowth     float64 `json:"usersGrowth"`
}

// HotSearch ranked keyword
type HotSearch struct {
	Keyword     string `json:"keyword"`
	SearchCount int64  `json:"searchCount"`
	IsTrending  bool   `json:"isTrending"`
}
