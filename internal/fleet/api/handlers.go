// Package api serves the operator HTTP surface: identity registration,
// fleet statistics and actions pushed down to connected agents.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/robofleet/robofleet/internal/broker"
	"github.com/robofleet/robofleet/internal/common/logger"
	"github.com/robofleet/robofleet/internal/events/bus"
	"github.com/robofleet/robofleet/internal/fleet/repository"

	apperrors "github.com/robofleet/robofleet/internal/common/errors"
)

// refreshAllConcurrency caps parallel fetch_network fan-out.
const refreshAllConcurrency = 8

// instructionTimeout bounds how long a handler waits on one agent.
const instructionTimeout = 30 * time.Second

// Handler carries the dependencies of the operator API.
type Handler struct {
	repo      repository.Repository
	directory *broker.Directory
	bus       bus.EventBus
	log       *logger.Logger
	version   string
}

// NewHandler wires the operator API against its backends.
func NewHandler(repo repository.Repository, directory *broker.Directory, eventBus bus.EventBus, log *logger.Logger, version string) *Handler {
	return &Handler{
		repo:      repo,
		directory: directory,
		bus:       eventBus,
		log:       log.WithFields(zap.String("component", "api")),
		version:   version,
	}
}

// RegisterRoutes mounts all operator endpoints under /api.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")

	api.GET("/ping", h.ping)
	api.GET("/meta/version", h.metaVersion)

	api.POST("/ident/whoami", h.identWhoAmI)
	api.POST("/ident/sync", h.identSync)
	api.GET("/ident/retrieve", h.identRetrieve)

	api.GET("/stats/robots", h.statsRobots)
	api.GET("/stats/online_robots", h.statsOnlineRobots)
	api.GET("/stats/robot/:uuid", h.statsRobot)
	api.GET("/stats/robot/:uuid/network", h.statsRobotNetwork)

	api.POST("/action/set_robot_name", h.actionSetRobotName)
	api.POST("/action/refresh_network", h.actionRefreshNetwork)
	api.POST("/action/refresh_network_all", h.actionRefreshNetworkAll)
}

func (h *Handler) ping(c *gin.Context) {
	c.String(http.StatusOK, "pong")
}

func (h *Handler) metaVersion(c *gin.Context) {
	c.JSON(http.StatusOK, VersionResponse{Version: h.version})
}

// identWhoAmI mints an identity suggestion without persisting anything.
func (h *Handler) identWhoAmI(c *gin.Context) {
	var req WhoAmIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid request body")
		return
	}
	c.JSON(http.StatusOK, WhoAmIResponse{
		RobotUUID: uuid.NewString(),
		RobotName: fmt.Sprintf("robot_%s_%s", req.Username, req.Mac),
	})
}

func (h *Handler) identSync(c *gin.Context) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.repo.RegisterRobot(c.Request.Context(), req.Mac, req.Name, req.UUID); err != nil {
		h.log.Error("robot registration failed", zap.String("uuid", req.UUID), zap.Error(err))
		c.JSON(http.StatusOK, SyncResponse{Success: false})
		return
	}
	c.JSON(http.StatusOK, SyncResponse{Success: true})
}

// identRetrieve answers null rather than 404 when nothing matches, so
// agents can poll their registration status cheaply.
func (h *Handler) identRetrieve(c *gin.Context) {
	username := c.Query("username")
	mac := c.Query("mac_address")
	robot, err := h.repo.SearchByNameAndMac(c.Request.Context(), username, mac)
	if err != nil {
		h.log.Error("robot lookup failed", zap.String("username", username), zap.Error(err))
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, robot)
}

func (h *Handler) statsRobots(c *gin.Context) {
	robots, err := h.repo.Robots(c.Request.Context())
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to fetch robots")
		return
	}
	ids := make([]string, 0, len(robots))
	for _, r := range robots {
		ids = append(ids, r.UUID)
	}
	c.JSON(http.StatusOK, ids)
}

func (h *Handler) statsOnlineRobots(c *gin.Context) {
	c.JSON(http.StatusOK, h.directory.OnlineRobots())
}

func (h *Handler) statsRobot(c *gin.Context) {
	id := c.Param("uuid")
	robot, err := h.repo.RobotByUUID(c.Request.Context(), id)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to fetch robot")
		return
	}
	if robot == nil {
		c.String(http.StatusNotFound, "no robot with uuid %s", id)
		return
	}
	c.JSON(http.StatusOK, robot)
}

func (h *Handler) statsRobotNetwork(c *gin.Context) {
	id := c.Param("uuid")
	row, err := h.repo.NetworkInfo(c.Request.Context(), id)
	if err != nil {
		c.String(http.StatusInternalServerError, "failed to fetch network info")
		return
	}
	if row == nil {
		c.String(http.StatusNotFound, "no network info for robot %s", id)
		return
	}
	c.JSON(http.StatusOK, RobotNetworkStatsResponse{
		Stats:       row.Info,
		LastUpdated: row.LastUpdated,
	})
}

// actionSetRobotName pushes the new name to the agent first and only then
// persists it, so the store never gets ahead of a disconnected robot.
func (h *Handler) actionSetRobotName(c *gin.Context) {
	var req SetRobotNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid request body")
		return
	}

	conn, ok := h.directory.Get(req.RobotUUID)
	if !ok {
		h.log.Info("robot not connected", zap.String("robot_id", req.RobotUUID))
		c.String(http.StatusBadRequest, "robot not connected")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), instructionTimeout)
	defer cancel()
	if _, err := conn.SendInstruction(ctx, broker.SyncRobotName{RobotName: req.NewRobotName}); err != nil {
		h.log.Error("sync_robot_name failed", zap.String("robot_id", req.RobotUUID), zap.Error(err))
		c.String(http.StatusBadRequest, "failed to deliver instruction")
		return
	}
	if err := h.repo.SetRobotName(ctx, req.RobotUUID, req.NewRobotName); err != nil {
		c.String(http.StatusInternalServerError, "failed to persist robot name")
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) actionRefreshNetwork(c *gin.Context) {
	var req FetchNetworkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.String(http.StatusBadRequest, "invalid request body")
		return
	}

	conn, ok := h.directory.Get(req.RobotID)
	if !ok {
		h.log.Info("robot not connected", zap.String("robot_id", req.RobotID))
		c.String(http.StatusBadRequest, "robot not connected")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), instructionTimeout)
	defer cancel()
	if err := h.refreshNetwork(ctx, conn); err != nil {
		h.log.Error("fetch_network failed", zap.String("robot_id", req.RobotID), zap.Error(err))
		if apperrors.IsCode(err, apperrors.ErrCodeStorageError) {
			c.String(http.StatusInternalServerError, "failed to write network info")
			return
		}
		c.String(http.StatusBadRequest, "failed to fetch network info")
		return
	}
	c.Status(http.StatusOK)
}

// actionRefreshNetworkAll fans fetch_network out to every online agent.
// Best effort: individual failures are logged, the call itself succeeds.
func (h *Handler) actionRefreshNetworkAll(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), instructionTimeout)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(refreshAllConcurrency)
	for _, conn := range h.directory.Connections() {
		conn := conn
		g.Go(func() error {
			if err := h.refreshNetwork(ctx, conn); err != nil {
				h.log.Error("fetch_network failed",
					zap.String("robot_id", conn.RobotID()),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	c.Status(http.StatusOK)
}

func (h *Handler) refreshNetwork(ctx context.Context, conn *broker.Connection) error {
	info, err := conn.SendInstruction(ctx, broker.FetchNetwork{})
	if err != nil {
		return err
	}
	if err := h.repo.WriteNetworkInfo(ctx, conn.RobotID(), info); err != nil {
		return err
	}
	h.publishNetworkUpdated(conn.RobotID())
	return nil
}

func (h *Handler) publishNetworkUpdated(robotID string) {
	if h.bus == nil {
		return
	}
	event := bus.NewEvent(bus.SubjectNetworkUpdated, "api", map[string]string{"robot_id": robotID})
	if err := h.bus.Publish(context.Background(), bus.SubjectNetworkUpdated, event); err != nil {
		h.log.Warn("could not publish network update", zap.Error(err))
	}
}
