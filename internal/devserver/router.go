// Package devserver is a deliberately inconsistent fake backend. It serves the same
// articles through several paths and envelopes so the client's fallbacks can be exercised.
package devserver

import (
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const subjectContextKey = "driftwood_subject"

var (
	errMissingTokenIssuer   = errors.New("token issuer dependency required")
	errMissingArticles      = errors.New("articles dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// Dependencies are the collaborators of the dev backend.
type Dependencies struct {
	Tokens   *TokenIssuer
	Articles *Articles
	Logger   *zap.Logger
}

// Server is the dev backend's HTTP handler.
type Server struct {
	router   *gin.Engine
	tokens   *TokenIssuer
	articles *Articles
	logger   *zap.Logger
	outage   atomic.Bool
}

// NewServer wires the routes.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Articles == nil {
		return nil, errMissingArticles
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &Server{
		router:   gin.New(),
		tokens:   deps.Tokens,
		articles: deps.Articles,
		logger:   logger,
	}
	server.router.Use(gin.Recovery())
	server.router.Use(corsMiddleware())

	server.router.POST("/auth/token", server.handleIssueToken)

	content := server.router.Group("/")
	content.Use(server.simulateOutage)
	content.GET("/news/:id", server.handleRemovedPath)
	content.GET("/news/by-id/:id", server.handleDataEnvelope)
	content.GET("/posts/:id", server.handleBlankedFields)
	content.GET("/news", server.handleDataListing)
	content.GET("/posts", server.handlePostsListing)
	content.GET("/videos", server.handleEmptyListing)
	content.POST("/news/:id/view", server.handleView)

	protected := content.Group("/")
	protected.Use(server.authorizeRequest)
	protected.POST("/posts/:id/likes", server.handleLike)
	protected.POST("/news/:id/unlike", server.handleUnlike)
	protected.POST("/news/:id/comments", server.handleComment)

	return server, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetOutage makes every content route answer 503 until disabled.
func (s *Server) SetOutage(enabled bool) {
	s.outage.Store(enabled)
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}

type tokenRequestPayload struct {
	Subject string `json:"subject"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (s *Server) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Subject) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	token, expiresIn, err := s.tokens.Issue(request.Subject)
	if err != nil {
		s.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(http.StatusOK, tokenResponsePayload{AccessToken: token, ExpiresIn: expiresIn, TokenType: "Bearer"})
}

func (s *Server) handleRemovedPath(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
}

func (s *Server) handleDataEnvelope(c *gin.Context) {
	article, ok := s.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": article.fields()})
}

func (s *Server) handleBlankedFields(c *gin.Context) {
	article, ok := s.lookup(c)
	if !ok {
		return
	}
	fields := article.fields()
	fields["image"] = nil
	fields["body"] = "  "
	c.JSON(http.StatusOK, fields)
}

func (s *Server) handleDataListing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.listFields()})
}

func (s *Server) handlePostsListing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"posts": s.listFields()})
}

func (s *Server) handleEmptyListing(c *gin.Context) {
	c.JSON(http.StatusOK, []any{})
}

func (s *Server) handleView(c *gin.Context) {
	id, ok := parseArticleID(c.Param("id"))
	if !ok || !s.articles.View(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLike(c *gin.Context) {
	id, ok := parseArticleID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	count, found := s.articles.Like(id, c.GetString(subjectContextKey))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"likeCount": count})
}

func (s *Server) handleUnlike(c *gin.Context) {
	id, ok := parseArticleID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	count, found := s.articles.Unlike(id, c.GetString(subjectContextKey))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"likesCount": count}})
}

type commentRequestPayload struct {
	Text string `json:"text"`
}

func (s *Server) handleComment(c *gin.Context) {
	id, ok := parseArticleID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	comment, count, found := s.articles.AddComment(id, c.GetString(subjectContextKey), request.Text)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"comment": comment, "commentsCount": count})
}

func (s *Server) simulateOutage(c *gin.Context) {
	if s.outage.Load() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "unavailable"})
		return
	}
	c.Next()
}

func (s *Server) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := s.tokens.ValidateToken(token)
	if err != nil {
		s.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(subjectContextKey, subject)
	c.Next()
}

func (s *Server) lookup(c *gin.Context) (Article, bool) {
	id, ok := parseArticleID(c.Param("id"))
	if ok {
		if article, found := s.articles.Get(id); found {
			return article, true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	return Article{}, false
}

func (s *Server) listFields() []map[string]any {
	articles := s.articles.List()
	list := make([]map[string]any, 0, len(articles))
	for _, article := range articles {
		list = append(list, article.fields())
	}
	return list
}
