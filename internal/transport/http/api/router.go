package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"secmaster/internal/logger"
	"secmaster/internal/store"
	"secmaster/internal/types"

	"github.com/gin-gonic/gin"
)

// ErrRunInProgress is returned by a Trigger that is already running.
var ErrRunInProgress = errors.New("validation run already in progress")

// RunRequest 是 POST /api/runs 的请求体；tsids 为空时验证表内全部活跃 tsid。
type RunRequest struct {
	Table string   `json:"table"`
	TSIDs []string `json:"tsids"`
}

// Trigger 由 app 实现，执行一次交叉验证并返回运行记录。
type Trigger interface {
	Trigger(ctx context.Context, req RunRequest) (store.RunRecord, error)
}

// Router 暴露运行记录、数据源与共识价格的查询接口。
type Router struct {
	store           store.Store
	trigger         Trigger
	consensusVendor string
}

func NewRouter(st store.Store, trigger Trigger, consensusVendor string) *Router {
	return &Router{store: st, trigger: trigger, consensusVendor: consensusVendor}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/runs", r.handleListRuns)
	group.GET("/runs/:id", r.handleRunByID)
	group.GET("/vendors", r.handleVendors)
	group.GET("/tables/:table/tsids", r.handleTSIDs)
	group.GET("/tables/:table/consensus/:tsid", r.handleConsensus)
	if r.trigger != nil {
		group.POST("/runs", r.handleTrigger)
	}
}

func (r *Router) handleListRuns(c *gin.Context) {
	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	runs, err := r.store.Runs().List(c.Request.Context(), limit)
	if err != nil {
		logger.Errorf("[api] list runs failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (r *Router) handleRunByID(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	rec, err := r.store.Runs().Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		logger.Errorf("[api] run detail failed ip=%s id=%s err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) handleVendors(c *gin.Context) {
	vendors, err := r.store.Vendors().List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"vendors": vendors})
}

func (r *Router) handleTSIDs(c *gin.Context) {
	table := c.Param("table")
	if err := store.CheckTable(table); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tsids, err := r.store.Prices().ActiveTSIDs(c.Request.Context(), table)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"table": table, "tsids": tsids})
}

func (r *Router) handleConsensus(c *gin.Context) {
	table := c.Param("table")
	if err := store.CheckTable(table); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	id, err := r.store.Vendors().ResolveID(ctx, r.consensusVendor)
	if err != nil {
		if errors.Is(err, store.ErrVendorNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "consensus vendor not registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	tsid := types.TSID(c.Param("tsid"))
	bars, err := r.store.Prices().Bars(ctx, table, tsid, &id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"table": table, "tsid": tsid, "data_vendor_id": id, "bars": bars})
}

func (r *Router) handleTrigger(c *gin.Context) {
	var req RunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Table != "" {
		if err := store.CheckTable(req.Table); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	logger.Infof("[api] validation run triggered ip=%s table=%q tsids=%d", c.ClientIP(), req.Table, len(req.TSIDs))
	rec, err := r.trigger.Trigger(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.Errorf("[api] validation run failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}
