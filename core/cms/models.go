// Package cms holds the website content: categories, blogs, stories, services, galleries and work samples.
package cms

import (
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
	"github.com/trezcool/backoffice/core/filemanager"
	"github.com/trezcool/backoffice/core/user"
)

const (
	TableCategories   = "content_categories"
	TableManagers     = "content_managers"
	TableBlogs        = "blogs"
	TablePosts        = "posts"
	TableComments     = "post_comments"
	TableStories      = "stories"
	TableServices     = "services"
	TableGalleries    = "galleries"
	TableGalleryItems = "gallery_items"
	TableWorkSamples  = "work_samples"
)

// Publication statuses
const (
	StatusDraft     = 1
	StatusPublished = 2
	StatusArchived  = 3
)

// Comment statuses
const (
	CommentPending  = 1
	CommentApproved = 2
	CommentRejected = 3
)

var publicationStatuses = []int{StatusDraft, StatusPublished, StatusArchived}

// Content holds the fields shared by publishable records.
type Content struct {
	Title            string   `json:"title" gorm:"size:200;not null" validate:"required,notblank,max=200"`
	Slug             string   `json:"slug" gorm:"size:220;index" validate:"max=220"`
	Summary          string   `json:"summary" gorm:"size:500" validate:"max=500"`
	Body             string   `json:"body" gorm:"type:text"`
	CategoryID       null.Int `json:"category_id" gorm:"index" ref:"cms/ContentCategory"`
	ContentManagerID null.Int `json:"content_manager_id" ref:"cms/ContentManager"`
	ImageID          null.Int `json:"image_id" ref:"file_manager/File"`
	AuthorID         null.Int `json:"author_id" gorm:"index" ref:"security/User"`
	Ordering         int      `json:"ordering"`
}

func (c *Content) Clean() {
	c.Title = core.CleanString(c.Title)
	c.Slug = core.Slugify(c.Slug)
	if c.Slug == "" {
		c.Slug = core.Slugify(c.Title)
	}
}

func (c *Content) References() []crud.Reference {
	return []crud.Reference{
		{Field: "category_id", Table: TableCategories, ID: int(c.CategoryID.Int)},
		{Field: "content_manager_id", Table: TableManagers, ID: int(c.ContentManagerID.Int)},
		{Field: "image_id", Table: filemanager.TableFiles, ID: int(c.ImageID.Int)},
		{Field: "author_id", Table: user.Table, ID: int(c.AuthorID.Int)},
	}
}

func (*Content) Statuses() []int { return publicationStatuses }

type ContentCategory struct {
	core.Model
	Title    string   `json:"title" gorm:"size:150;not null" validate:"required,notblank,max=150"`
	Slug     string   `json:"slug" gorm:"size:170;index" validate:"max=170"`
	ParentID null.Int `json:"parent_id" gorm:"index" ref:"cms/ContentCategory"`
	ImageID  null.Int `json:"image_id" ref:"file_manager/File"`
	Ordering int      `json:"ordering"`
}

func (ContentCategory) TableName() string { return TableCategories }

func (c *ContentCategory) Clean() {
	c.Title = core.CleanString(c.Title)
	if c.Slug = core.Slugify(c.Slug); c.Slug == "" {
		c.Slug = core.Slugify(c.Title)
	}
}

func (c *ContentCategory) References() []crud.Reference {
	return []crud.Reference{
		{Field: "parent_id", Table: TableCategories, ID: int(c.ParentID.Int)},
		{Field: "image_id", Table: filemanager.TableFiles, ID: int(c.ImageID.Int)},
	}
}

func (*ContentCategory) Children() []crud.Child {
	return []crud.Child{{Table: TableCategories, ForeignKey: "parent_id", Recursive: true}}
}

// ContentManager is the SEO and meta block attached to content pages.
type ContentManager struct {
	core.Model
	MetaTitle       string   `json:"meta_title" gorm:"size:200" validate:"max=200"`
	MetaDescription string   `json:"meta_description" gorm:"size:500" validate:"max=500"`
	MetaKeywords    string   `json:"meta_keywords" gorm:"size:500" validate:"max=500"`
	CanonicalURL    string   `json:"canonical_url" gorm:"size:500" validate:"omitempty,url"`
	OGImageID       null.Int `json:"og_image_id" ref:"file_manager/File"`
	NoIndex         bool     `json:"no_index"`
}

func (ContentManager) TableName() string { return TableManagers }

func (c *ContentManager) References() []crud.Reference {
	return []crud.Reference{{Field: "og_image_id", Table: filemanager.TableFiles, ID: int(c.OGImageID.Int)}}
}

type Blog struct {
	core.Model
	Content
}

func (Blog) TableName() string { return TableBlogs }

func (*Blog) Children() []crud.Child {
	return []crud.Child{{
		Table:      TablePosts,
		ForeignKey: "blog_id",
		Children:   []crud.Child{{Table: TableComments, ForeignKey: "post_id"}},
	}}
}

type Post struct {
	core.Model
	Content
	BlogID      int       `json:"blog_id" gorm:"not null;index" validate:"required" ref:"cms/Blog"`
	PublishedAt null.Time `json:"published_at"`
	Views       int       `json:"views"`
}

func (Post) TableName() string { return TablePosts }

func (p *Post) References() []crud.Reference {
	return append(p.Content.References(), crud.Reference{Field: "blog_id", Table: TableBlogs, ID: p.BlogID})
}

func (*Post) Children() []crud.Child {
	return []crud.Child{{Table: TableComments, ForeignKey: "post_id"}}
}

type Comment struct {
	core.Model
	PostID int      `json:"post_id" gorm:"not null;index" validate:"required" ref:"cms/Post"`
	UserID null.Int `json:"user_id" gorm:"index" ref:"security/User"`
	Name   string   `json:"name" gorm:"size:100" validate:"max=100"`
	Email  string   `json:"email" gorm:"size:254" validate:"omitempty,email"`
	Body   string   `json:"body" gorm:"type:text;not null" validate:"required,notblank"`
}

func (Comment) TableName() string { return TableComments }

func (c *Comment) References() []crud.Reference {
	return []crud.Reference{
		{Field: "post_id", Table: TablePosts, ID: c.PostID},
		{Field: "user_id", Table: user.Table, ID: int(c.UserID.Int)},
	}
}

func (*Comment) Statuses() []int { return []int{CommentPending, CommentApproved, CommentRejected} }

type Story struct {
	core.Model
	Content
	ExpiresAt null.Time `json:"expires_at"`
}

func (Story) TableName() string { return TableStories }

type Service struct {
	core.Model
	Content
	Icon string `json:"icon" gorm:"size:100" validate:"max=100"`
}

func (Service) TableName() string { return TableServices }

type Gallery struct {
	core.Model
	Content
}

func (Gallery) TableName() string { return TableGalleries }

func (*Gallery) Children() []crud.Child {
	return []crud.Child{{Table: TableGalleryItems, ForeignKey: "gallery_id"}}
}

type GalleryItem struct {
	core.Model
	GalleryID int    `json:"gallery_id" gorm:"not null;index" validate:"required" ref:"cms/Gallery"`
	FileID    int    `json:"file_id" gorm:"not null" validate:"required" ref:"file_manager/File"`
	Caption   string `json:"caption" gorm:"size:300" validate:"max=300"`
	Ordering  int    `json:"ordering"`
}

func (GalleryItem) TableName() string { return TableGalleryItems }

func (g *GalleryItem) References() []crud.Reference {
	return []crud.Reference{
		{Field: "gallery_id", Table: TableGalleries, ID: g.GalleryID},
		{Field: "file_id", Table: filemanager.TableFiles, ID: g.FileID},
	}
}

type WorkSample struct {
	core.Model
	Content
	Client      string    `json:"client" gorm:"size:150" validate:"max=150"`
	ProjectURL  string    `json:"project_url" gorm:"size:500" validate:"omitempty,url"`
	CompletedAt null.Time `json:"completed_at"`
}

func (WorkSample) TableName() string { return TableWorkSamples }
