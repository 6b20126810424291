package cms

import (
	"context"
	"fmt"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/backoffice/core"
	"github.com/trezcool/backoffice/core/crud"
)

// Repositories of the cms records.
type Repositories struct {
	Categories   crud.Repository[ContentCategory]
	Managers     crud.Repository[ContentManager]
	Blogs        crud.Repository[Blog]
	Posts        crud.Repository[Post]
	Comments     crud.Repository[Comment]
	Stories      crud.Repository[Story]
	Services     crud.Repository[Service]
	Galleries    crud.Repository[Gallery]
	GalleryItems crud.Repository[GalleryItem]
	WorkSamples  crud.Repository[WorkSample]
}

// Contents manages every cms record.
type Contents struct {
	categories   *crud.Service[ContentCategory, *ContentCategory]
	managers     *crud.Service[ContentManager, *ContentManager]
	blogs        *crud.Service[Blog, *Blog]
	posts        *crud.Service[Post, *Post]
	comments     *crud.Service[Comment, *Comment]
	stories      *crud.Service[Story, *Story]
	services     *crud.Service[Service, *Service]
	galleries    *crud.Service[Gallery, *Gallery]
	galleryItems *crud.Service[GalleryItem, *GalleryItem]
	workSamples  *crud.Service[WorkSample, *WorkSample]

	notifier core.Notifier
	logger   core.Logger
}

func NewContents(repos Repositories, settings crud.Settings, notifier core.Notifier, logger core.Logger) *Contents {
	c := &Contents{notifier: notifier, logger: logger}
	c.categories = crud.NewService[ContentCategory](repos.Categories, settings, crud.WithBeforeSave[ContentCategory](noSelfParent))
	c.managers = crud.NewService[ContentManager](repos.Managers, settings)
	c.blogs = crud.NewService[Blog](repos.Blogs, settings, crud.WithBeforeSave[Blog](setAuthor[Blog]))
	c.posts = crud.NewService[Post](repos.Posts, settings, crud.WithBeforeSave[Post](setAuthor[Post]), crud.WithBeforeSave[Post](stampPublication))
	c.comments = crud.NewService[Comment](repos.Comments, settings, crud.WithAfterSave[Comment](c.notifyApproval))
	c.stories = crud.NewService[Story](repos.Stories, settings, crud.WithBeforeSave[Story](setAuthor[Story]))
	c.services = crud.NewService[Service](repos.Services, settings)
	c.galleries = crud.NewService[Gallery](repos.Galleries, settings)
	c.galleryItems = crud.NewService[GalleryItem](repos.GalleryItems, settings)
	c.workSamples = crud.NewService[WorkSample](repos.WorkSamples, settings)
	return c
}

func (c *Contents) Categories() *crud.Service[ContentCategory, *ContentCategory] { return c.categories }
func (c *Contents) Managers() *crud.Service[ContentManager, *ContentManager]     { return c.managers }
func (c *Contents) Blogs() *crud.Service[Blog, *Blog]                            { return c.blogs }
func (c *Contents) Posts() *crud.Service[Post, *Post]                            { return c.posts }
func (c *Contents) Comments() *crud.Service[Comment, *Comment]                   { return c.comments }
func (c *Contents) Stories() *crud.Service[Story, *Story]                        { return c.stories }
func (c *Contents) Services() *crud.Service[Service, *Service]                   { return c.services }
func (c *Contents) Galleries() *crud.Service[Gallery, *Gallery]                  { return c.galleries }
func (c *Contents) GalleryItems() *crud.Service[GalleryItem, *GalleryItem]       { return c.galleryItems }
func (c *Contents) WorkSamples() *crud.Service[WorkSample, *WorkSample]          { return c.workSamples }

func noSelfParent(_ context.Context, cat, _ *ContentCategory) error {
	if cat.ID != 0 && cat.ParentID.Valid && int(cat.ParentID.Int) == cat.ID {
		return core.NewValidationError(nil, core.FieldError{Field: "parent_id", Error: core.MsgInvalidValue})
	}
	return nil
}

// authored is implemented by the records embedding Content.
type authored interface {
	crud.Record
	content() *Content
}

func (c *Content) content() *Content { return c }

// setAuthor defaults the author to the context actor.
func setAuthor[T any, PT interface {
	*T
	authored
}](ctx context.Context, obj, existing PT) error {
	c := obj.content()
	if c.AuthorID.Valid {
		return nil
	}
	if existing != nil {
		c.AuthorID = existing.content().AuthorID
		return nil
	}
	if actor, ok := core.ActorFromContext(ctx); ok {
		c.AuthorID = null.IntFrom(actor.ID)
	}
	return nil
}

// stampPublication sets the publication date the first time a post is published.
func stampPublication(_ context.Context, post, existing *Post) error {
	if existing != nil && existing.PublishedAt.Valid {
		if !post.PublishedAt.Valid {
			post.PublishedAt = existing.PublishedAt
		}
		return nil
	}
	if post.Status == StatusPublished && !post.PublishedAt.Valid {
		post.PublishedAt = null.TimeFrom(time.Now().UTC())
	}
	return nil
}

// notifyApproval tells a registered commenter their comment went public.
func (c *Contents) notifyApproval(ctx context.Context, comment, existing *Comment) error {
	if comment.Status != CommentApproved || !comment.UserID.Valid {
		return nil
	}
	if existing != nil && existing.Status == CommentApproved {
		return nil
	}
	err := c.notifier.Notify(ctx, int(comment.UserID.Int), "Your comment was approved", "", fmt.Sprintf("/posts/%d", comment.PostID))
	if err != nil {
		c.logger.Error(fmt.Sprintf("notifying user %d of comment %d: %v", comment.UserID.Int, comment.ID, err), err)
	}
	return nil
}
