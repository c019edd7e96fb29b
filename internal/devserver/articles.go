package devserver

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Article is one piece of content served by the dev backend.
type Article struct {
	ID            int
	Title         string
	Body          string
	Image         string
	LikesCount    int
	CommentsCount int
	Views         int
}

// Comment is a stored comment.
type Comment struct {
	ID        string `json:"id"`
	ArticleID int    `json:"postId"`
	Author    string `json:"author"`
	Text      string `json:"text"`
}

// Articles is the dev backend's mutable content.
type Articles struct {
	mu       sync.Mutex
	articles map[int]*Article
	order    []int
	likes    map[int]map[string]bool
	comments map[int][]Comment
}

// NewArticles seeds the store with articles.
func NewArticles(seed ...Article) *Articles {
	store := &Articles{
		articles: make(map[int]*Article),
		likes:    make(map[int]map[string]bool),
		comments: make(map[int][]Comment),
	}
	for _, article := range seed {
		copied := article
		store.articles[article.ID] = &copied
		store.order = append(store.order, article.ID)
	}
	return store
}

// SampleArticles is the content `driftwood devserver` starts with.
func SampleArticles() []Article {
	return []Article{
		{ID: 1, Title: "Harbour reopens after storm", Body: "Ferries resume on Monday.", Image: "https://cdn.example.test/harbour.jpg", LikesCount: 12, Views: 340},
		{ID: 2, Title: "Council approves bike lanes", Body: "Work starts in spring.", Image: "https://cdn.example.test/bikes.jpg", LikesCount: 4, Views: 95},
		{ID: 5, Title: "Night market returns", Body: "Forty stalls confirmed.", Image: "https://cdn.example.test/market.jpg", LikesCount: 30, Views: 1200},
	}
}

// Get returns a copy of the article with id.
func (s *Articles) Get(id int) (Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[id]
	if !ok {
		return Article{}, false
	}
	return *article, true
}

// List returns copies of all articles in seed order.
func (s *Articles) List() []Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]Article, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, *s.articles[id])
	}
	return list
}

// Like records subject's like once and returns the like total.
func (s *Articles) Like(id int, subject string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[id]
	if !ok {
		return 0, false
	}
	if s.likes[id] == nil {
		s.likes[id] = make(map[string]bool)
	}
	if !s.likes[id][subject] {
		s.likes[id][subject] = true
		article.LikesCount++
	}
	return article.LikesCount, true
}

// Unlike removes subject's like and returns the like total.
func (s *Articles) Unlike(id int, subject string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[id]
	if !ok {
		return 0, false
	}
	if s.likes[id][subject] {
		delete(s.likes[id], subject)
		article.LikesCount--
	}
	return article.LikesCount, true
}

// View increments the view counter.
func (s *Articles) View(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[id]
	if !ok {
		return false
	}
	article.Views++
	return true
}

// AddComment stores a comment and returns it with the new comment total.
func (s *Articles) AddComment(id int, subject, text string) (Comment, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	article, ok := s.articles[id]
	if !ok {
		return Comment{}, 0, false
	}
	comment := Comment{ID: uuid.NewString(), ArticleID: id, Author: subject, Text: text}
	s.comments[id] = append(s.comments[id], comment)
	article.CommentsCount++
	return comment, article.CommentsCount, true
}

func (a Article) fields() map[string]any {
	return map[string]any{
		"id":            a.ID,
		"title":         a.Title,
		"body":          a.Body,
		"image":         a.Image,
		"likesCount":    a.LikesCount,
		"commentsCount": a.CommentsCount,
		"views":         a.Views,
	}
}

func parseArticleID(raw string) (int, bool) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
