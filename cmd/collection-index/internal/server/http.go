package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediavault/cmd/collection-index/internal/biz"
	"mediavault/cmd/collection-index/internal/domain"
	"mediavault/pkg/health"
)

// HTTPConfig HTTP服务器配置
type HTTPConfig struct {
	Addr           string
	Mode           string // debug, release, test
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
}

func (c *HTTPConfig) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// HTTPServer 查询与管理HTTP服务器
type HTTPServer struct {
	engine   *gin.Engine
	server   *http.Server
	reader   *biz.IndexReader
	thumbs   *biz.ThumbnailCache
	dash     *biz.DashboardCache
	orch     *biz.Orchestrator
	verifier *biz.Verifier
	checks   *health.Registry
	logger   log.Logger
	log      *log.Helper

	requestTimeout time.Duration

	// baseCtx 后台任务的父context，Start时由调用方注入
	baseCtx context.Context
}

// NewHTTPServer 创建HTTP服务器
func NewHTTPServer(
	cfg *HTTPConfig,
	reader *biz.IndexReader,
	thumbs *biz.ThumbnailCache,
	dash *biz.DashboardCache,
	orch *biz.Orchestrator,
	verifier *biz.Verifier,
	checks *health.Registry,
	logger log.Logger,
) *HTTPServer {
	if cfg == nil {
		cfg = &HTTPConfig{}
	}
	cfg.setDefaults()

	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	engine := gin.New()

	s := &HTTPServer{
		engine:         engine,
		reader:         reader,
		thumbs:         thumbs,
		dash:           dash,
		orch:           orch,
		verifier:       verifier,
		checks:         checks,
		logger:         logger,
		log:            log.NewHelper(log.With(logger, "module", "server/http")),
		requestTimeout: cfg.RequestTimeout,
		baseCtx:        context.Background(),
	}

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	s.registerMiddleware()
	s.registerRoutes()

	return s
}

// Engine 暴露gin引擎，测试用
func (s *HTTPServer) Engine() *gin.Engine {
	return s.engine
}

// registerMiddleware 注册中间件
func (s *HTTPServer) registerMiddleware() {
	// 恢复中间件必须最先
	s.engine.Use(RecoveryMiddleware(s.logger))
	s.engine.Use(RequestIDMiddleware())
	s.engine.Use(TracingMiddleware())
	s.engine.Use(LoggingMiddleware(s.logger))
}

// registerRoutes 注册路由
func (s *HTTPServer) registerRoutes() {
	// 健康检查与监控端点
	s.engine.GET("/healthz", s.healthz)
	s.engine.GET("/readyz", s.readyz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.engine.Group("/api/v1")
	api.Use(TimeoutMiddleware(s.requestTimeout))

	collections := api.Group("/collections")
	{
		collections.GET("", s.listCollections)
		collections.GET("/count", s.countCollections)
		collections.GET("/search", s.searchCollections)
		collections.GET("/:id", s.getCollection)
		collections.GET("/:id/navigation", s.getNavigation)
		collections.GET("/:id/siblings", s.getSiblings)
		collections.GET("/:id/thumbnail", s.getThumbnail)
	}

	libraries := api.Group("/libraries")
	{
		libraries.GET("/:id/collections", s.listLibraryCollections)
		libraries.GET("/:id/collections/count", s.countLibraryCollections)
	}

	types := api.Group("/types")
	{
		types.GET("/:type/collections", s.listTypeCollections)
		types.GET("/:type/collections/count", s.countTypeCollections)
	}

	api.GET("/dashboard", s.getDashboard)

	// 管理端点。verify同步执行，不走请求超时中间件
	admin := s.engine.Group("/admin")
	{
		admin.POST("/rebuild", s.startRebuild)
		admin.GET("/rebuild/status", s.rebuildStatus)
		admin.POST("/verify", s.runVerify)
		admin.POST("/dashboard/refresh", s.refreshDashboard)
	}
}

// parseSortArgs 解析sort与dir查询参数
func parseSortArgs(c *gin.Context) (domain.SortField, domain.Direction, bool) {
	field, err := domain.ParseSortField(c.Query("sort"))
	if err != nil {
		Error(c, err)
		return "", "", false
	}
	dir, err := domain.ParseDirection(c.Query("dir"))
	if err != nil {
		Error(c, err)
		return "", "", false
	}
	return field, dir, true
}

// parsePageArgs 解析分页参数，越界值由业务层归一化
func parsePageArgs(c *gin.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "0"))
	return page, pageSize
}

// listCollections 全局排序分页
func (s *HTTPServer) listCollections(c *gin.Context) {
	field, dir, ok := parseSortArgs(c)
	if !ok {
		return
	}
	page, pageSize := parsePageArgs(c)

	result, err := s.reader.GetPage(c.Request.Context(), page, pageSize, field, dir)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, result)
}

// countCollections 已索引集合总数
func (s *HTTPServer) countCollections(c *gin.Context) {
	count, err := s.reader.Count(c.Request.Context())
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, gin.H{"count": count})
}

// searchCollections 名称子串检索
func (s *HTTPServer) searchCollections(c *gin.Context) {
	field, dir, ok := parseSortArgs(c)
	if !ok {
		return
	}
	page, pageSize := parsePageArgs(c)

	result, err := s.reader.Search(c.Request.Context(), c.Query("q"), page, pageSize, field, dir)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, result)
}

// getCollection 读取单个集合摘要
func (s *HTTPServer) getCollection(c *gin.Context) {
	summary, err := s.reader.GetSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, summary)
}

// getNavigation 全局排序中的前后邻居
func (s *HTTPServer) getNavigation(c *gin.Context) {
	field, dir, ok := parseSortArgs(c)
	if !ok {
		return
	}

	nav, err := s.reader.GetNavigation(c.Request.Context(), c.Param("id"), field, dir)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, nav)
}

// getSiblings 集合所在页或指定页，page省略时自动定位
func (s *HTTPServer) getSiblings(c *gin.Context) {
	field, dir, ok := parseSortArgs(c)
	if !ok {
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "0"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "0"))

	result, err := s.reader.GetSiblings(c.Request.Context(), c.Param("id"), page, pageSize, field, dir)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, result)
}

// getThumbnail 读取封面缩略图，未缓存时回源
func (s *HTTPServer) getThumbnail(c *gin.Context) {
	data, err := s.thumbs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

// listLibraryCollections 媒体库内分页
func (s *HTTPServer) listLibraryCollections(c *gin.Context) {
	field, dir, ok := parseSortArgs(c)
	if !ok {
		return
	}
	page, pageSize := parsePageArgs(c)

	result, err := s.reader.GetLibraryPage(c.Request.Context(), c.Param("id"), page, pageSize, field, dir)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, result)
}

// countLibraryCollections 媒体库内集合数
func (s *HTTPServer) countLibraryCollections(c *gin.Context) {
	count, err := s.reader.CountByLibrary(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, gin.H{"count": count})
}

// listTypeCollections 按类型分页
func (s *HTTPServer) listTypeCollections(c *gin.Context) {
	field, dir, ok := parseSortArgs(c)
	if !ok {
		return
	}
	page, pageSize := parsePageArgs(c)

	result, err := s.reader.GetTypePage(c.Request.Context(), c.Param("type"), page, pageSize, field, dir)
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, result)
}

// countTypeCollections 类型内集合数
func (s *HTTPServer) countTypeCollections(c *gin.Context) {
	count, err := s.reader.CountByType(c.Request.Context(), c.Param("type"))
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, gin.H{"count": count})
}

// getDashboard 仪表盘聚合统计
func (s *HTTPServer) getDashboard(c *gin.Context) {
	stats, err := s.dash.Get(c.Request.Context())
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, stats)
}

// startRebuild 异步启动重建，返回202与运行ID
func (s *HTTPServer) startRebuild(c *gin.Context) {
	var req struct {
		Mode           string `json:"mode"`
		BatchSize      int    `json:"batch_size"`
		WarmThumbnails *bool  `json:"warm_thumbnails"`
		DryRun         bool   `json:"dry_run"`
		Deep           bool   `json:"deep"`
	}
	// 空body取默认值
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, err.Error())
		return
	}

	mode, err := domain.ParseRebuildMode(req.Mode)
	if err != nil {
		Error(c, err)
		return
	}

	warm := true
	if req.WarmThumbnails != nil {
		warm = *req.WarmThumbnails
	}

	// 重建生命周期挂在服务context上，不随请求结束而取消
	runID, err := s.orch.StartAsync(s.baseCtx, biz.RebuildOptions{
		Mode:           mode,
		BatchSize:      req.BatchSize,
		WarmThumbnails: warm,
		DryRun:         req.DryRun,
		Deep:           req.Deep,
	})
	if err != nil {
		Error(c, err)
		return
	}

	Accepted(c, gin.H{"run_id": runID, "mode": mode})
}

// rebuildStatus 当前重建状态与最近一次统计
func (s *HTTPServer) rebuildStatus(c *gin.Context) {
	Success(c, gin.H{
		"running": s.orch.Running(),
		"last":    s.orch.LastStats(),
	})
}

// runVerify 同步执行一致性校验
func (s *HTTPServer) runVerify(c *gin.Context) {
	var req struct {
		DryRun    bool `json:"dry_run"`
		Deep      bool `json:"deep"`
		BatchSize int  `json:"batch_size"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(c, err.Error())
		return
	}

	result, err := s.verifier.Verify(c.Request.Context(), biz.VerifyOptions{
		DryRun:    req.DryRun,
		Deep:      req.Deep,
		BatchSize: req.BatchSize,
	})
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, result)
}

// refreshDashboard 强制重算仪表盘统计
func (s *HTTPServer) refreshDashboard(c *gin.Context) {
	stats, err := s.dash.Recompute(c.Request.Context(), "on_demand")
	if err != nil {
		Error(c, err)
		return
	}
	Success(c, stats)
}

// healthz 存活探针
func (s *HTTPServer) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// readyz 就绪探针，任一依赖不可达返回503
func (s *HTTPServer) readyz(c *gin.Context) {
	result := s.checks.CheckAll(c.Request.Context())
	status := http.StatusOK
	if result.Status != health.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

// Start 启动服务器并阻塞到监听失败或关闭
// ctx作为后台任务（异步重建）的父context
func (s *HTTPServer) Start(ctx context.Context) error {
	s.baseCtx = ctx
	s.log.Infof("HTTP server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}
