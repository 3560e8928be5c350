package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/inkwell-press/inkwell/pkg/economy"
	"github.com/inkwell-press/inkwell/pkg/ranking"
	"go.uber.org/zap"
)

// Run boots the HTTP facade and blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg Config, logger *zap.Logger, service *economy.Service, rankings *ranking.Query) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	handler := &httpHandler{
		logger:   logger,
		service:  service,
		rankings: rankings,
		cfg:      cfg,
	}
	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http facade listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/api/rankings", handler.handleRankings)

	api := router.Group("/api")
	api.Use(authMiddleware([]byte(cfg.TokenSigningKey), cfg.TokenIssuer))

	api.POST("/chapters/:chapterID/unlock", handler.handleUnlock)
	api.POST("/chapters/:chapterID/reads", handler.handleRead)
	api.GET("/stories/:storyID/unlocked", handler.handleUnlockedChapters)
	api.POST("/stories/:storyID/nominations", handler.handleNominate)
	api.POST("/checkins", handler.handleCheckIn)
	api.GET("/checkins/status", handler.handleCheckInStatus)
	api.GET("/wallet", handler.handleWallet)
	api.GET("/wallet/entries", handler.handleWalletEntries)

	admin := api.Group("/admin")
	admin.Use(requireRole(roleAdmin))
	admin.POST("/grants", handler.handleGrant)

	return router
}

type httpHandler struct {
	logger   *zap.Logger
	service  *economy.Service
	rankings *ranking.Query
	cfg      Config
}

func (handler *httpHandler) handleUnlock(ctx *gin.Context) {
	accountID, ok := handler.authedAccount(ctx)
	if !ok {
		return
	}
	chapterID, ok := pathID(ctx, "chapterID")
	if !ok {
		return
	}
	var request unlockRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	method, err := economy.ParseUnlockMethod(request.Method)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_method", "method must be currency or points"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.UnlockChapter(requestCtx, accountID, chapterID, method)
	if err != nil {
		handler.respondDomainError(ctx, "unlock failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"granted":       result.Granted,
		"already_owned": result.AlreadyOwned,
	})
}

func (handler *httpHandler) handleRead(ctx *gin.Context) {
	accountID, ok := handler.authedAccount(ctx)
	if !ok {
		return
	}
	chapterID, ok := pathID(ctx, "chapterID")
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.service.RecordRead(requestCtx, accountID, chapterID); err != nil {
		handler.respondDomainError(ctx, "record read failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) handleUnlockedChapters(ctx *gin.Context) {
	accountID, ok := handler.authedAccount(ctx)
	if !ok {
		return
	}
	storyID, ok := pathID(ctx, "storyID")
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	chapterIDs, err := handler.service.UnlockedChapters(requestCtx, accountID, storyID)
	if err != nil {
		handler.respondDomainError(ctx, "list unlocked failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"chapter_ids": chapterIDs})
}

func (handler *httpHandler) handleNominate(ctx *gin.Context) {
	accountID, ok := handler.authedAccount(ctx)
	if !ok {
		return
	}
	storyID, ok := pathID(ctx, "storyID")
	if !ok {
		return
	}
	var request nominateRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.service.NominateStory(requestCtx, accountID, storyID, request.Amount); err != nil {
		handler.respondDomainError(ctx, "nomination failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) handleCheckIn(ctx *gin.Context) {
	accountID, ok := handler.authedAccount(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := handler.service.CheckIn(requestCtx, accountID)
	if err != nil {
		handler.respondDomainError(ctx, "check-in failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"weekly_reward":    result.WeeklyReward,
		"milestone_reward": result.MilestoneReward,
		"total_reward":     result.TotalReward,
	})
}

func (handler *httpHandler) handleCheckInStatus(ctx *gin.Context) {
	accountID, ok := handler.authedAccount(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	status, err := handler.service.CheckInStatus(requestCtx, accountID)
	if err != nil {
		handler.respondDomainError(ctx, "check-in status failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"weekly_progress":      status.WeeklyProgress,
		"has_checked_in_today": status.HasCheckedInToday,
		"monthly_total":        status.MonthlyTotal,
		"milestones_achieved":  status.MilestonesAchieved,
	})
}

func (handler *httpHandler) handleWallet(ctx *gin.Context) {
	accountID, ok := handler.authedAccount(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balances, err := handler.service.Balances(requestCtx, accountID)
	if err != nil {
		handler.respondDomainError(ctx, "wallet fetch failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"currency":        balances.Currency,
		"activity_points": balances.Points,
		"tickets":         balances.Tickets,
	})
}

func (handler *httpHandler) handleWalletEntries(ctx *gin.Context) {
	accountID, ok := handler.authedAccount(ctx)
	if !ok {
		return
	}
	kind, err := economy.ParseBalanceKind(ctx.DefaultQuery("balance", economy.KindCurrency.String()))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_balance", "unknown balance kind"))
		return
	}
	page := queryInt(ctx, "page", 1)
	pageSize := queryInt(ctx, "page_size", 0)
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, total, err := handler.service.ListEntries(requestCtx, accountID, kind, page, pageSize)
	if err != nil {
		handler.respondDomainError(ctx, "entries fetch failed", err)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryPayload{
			EntryID:   entry.ID,
			Balance:   entry.Balance.String(),
			Kind:      entry.Kind.String(),
			Amount:    entry.Amount,
			ChapterID: entry.ChapterID,
			StoryID:   entry.StoryID,
			CreatedAt: entry.CreatedAt.UTC(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"entries": payload,
		"total":   total,
	})
}

func (handler *httpHandler) handleRankings(ctx *gin.Context) {
	typ, err := ranking.ParseType(ctx.Query("type"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_type", "unknown ranking type"))
		return
	}
	var categoryID *int64
	if raw := ctx.Query("category_id"); raw != "" {
		parsed, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil || parsed <= 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_category", "category_id must be a positive integer"))
			return
		}
		categoryID = &parsed
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	rows, err := handler.rankings.Rankings(requestCtx, typ, categoryID, queryInt(ctx, "page", 1), queryInt(ctx, "page_size", 0))
	if err != nil {
		handler.respondDomainError(ctx, "rankings fetch failed", err)
		return
	}
	payload := make([]rankingPayload, 0, len(rows))
	for _, row := range rows {
		payload = append(payload, rankingPayload{
			Rank:        row.Rank,
			StoryID:     row.StoryID,
			StoryTitle:  row.StoryTitle,
			Author:      row.Author,
			CoverImage:  row.CoverImage,
			Score:       row.Score,
			GeneratedAt: row.GeneratedAt.UTC(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"rankings": payload})
}

func (handler *httpHandler) handleGrant(ctx *gin.Context) {
	var request grantRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	kind, err := economy.ParseBalanceKind(request.Balance)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_balance", "unknown balance kind"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.service.GrantBalance(requestCtx, request.AccountID, kind, request.Amount, request.Reason); err != nil {
		handler.respondDomainError(ctx, "grant failed", err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) authedAccount(ctx *gin.Context) (int64, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return 0, false
	}
	accountID, ok := claims.AccountID()
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid subject"))
		return 0, false
	}
	return accountID, true
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func (handler *httpHandler) respondDomainError(ctx *gin.Context, message string, err error) {
	status, code := domainStatus(err)
	if status == http.StatusInternalServerError {
		handler.logger.Error(message, zap.Error(err))
	}
	ctx.JSON(status, errorResponse(code, message))
}

func domainStatus(err error) (int, string) {
	switch {
	case errors.Is(err, economy.ErrAccountNotFound),
		errors.Is(err, economy.ErrChapterNotFound),
		errors.Is(err, economy.ErrStoryNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, economy.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, economy.ErrAlreadyCheckedIn):
		return http.StatusConflict, "already_checked_in"
	case errors.Is(err, economy.ErrNotPurchasable),
		errors.Is(err, economy.ErrNotPurchasableBy):
		return http.StatusBadRequest, "not_purchasable"
	case errors.Is(err, economy.ErrInvalidAmount),
		errors.Is(err, economy.ErrInvalidBalanceKind),
		errors.Is(err, economy.ErrInvalidUnlockMethod),
		errors.Is(err, economy.ErrInvalidMetadata),
		errors.Is(err, ranking.ErrInvalidType),
		errors.Is(err, ranking.ErrCategoryRequired):
		return http.StatusBadRequest, "invalid_request"
	}
	return http.StatusInternalServerError, "internal_error"
}

func pathID(ctx *gin.Context, name string) (int64, bool) {
	parsed, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil || parsed <= 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_id", name+" must be a positive integer"))
		return 0, false
	}
	return parsed, true
}

func queryInt(ctx *gin.Context, name string, fallback int) int {
	raw := ctx.Query(name)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type unlockRequest struct {
	Method string `json:"method"`
}

type nominateRequest struct {
	Amount int64 `json:"amount"`
}

type grantRequest struct {
	AccountID int64  `json:"account_id"`
	Balance   string `json:"balance"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

type entryPayload struct {
	EntryID   string    `json:"entry_id"`
	Balance   string    `json:"balance"`
	Kind      string    `json:"kind"`
	Amount    int64     `json:"amount"`
	ChapterID *int64    `json:"chapter_id,omitempty"`
	StoryID   *int64    `json:"story_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type rankingPayload struct {
	Rank        int       `json:"rank"`
	StoryID     int64     `json:"story_id"`
	StoryTitle  string    `json:"story_title"`
	Author      string    `json:"author"`
	CoverImage  string    `json:"cover_image"`
	Score       int64     `json:"score"`
	GeneratedAt time.Time `json:"generated_at"`
}
