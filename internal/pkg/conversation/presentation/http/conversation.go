package http

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	cacheport "github.com/Angelica137/kindly/internal/infrastructure/cache/port"
	feedport "github.com/Angelica137/kindly/internal/infrastructure/changefeed/port"
	"github.com/Angelica137/kindly/internal/infrastructure/config"
	qport "github.com/Angelica137/kindly/internal/infrastructure/queue/port"
	"github.com/Angelica137/kindly/internal/infrastructure/realtime"
	"github.com/Angelica137/kindly/internal/pkg/conversation/application/feed"
	"github.com/Angelica137/kindly/internal/pkg/conversation/application/session"
	"github.com/Angelica137/kindly/internal/pkg/conversation/application/task"
	"github.com/Angelica137/kindly/internal/pkg/conversation/application/usecase"
	repoAdapter "github.com/Angelica137/kindly/internal/pkg/conversation/persistence/repository/adapter"
	"github.com/Angelica137/kindly/internal/pkg/conversation/presentation/controller"
	profileAdapter "github.com/Angelica137/kindly/internal/repository/adapter"
)

// Deps carries the shared infrastructure the conversation endpoints are built on.
type Deps struct {
	Pool   *pgxpool.Pool
	Feed   feedport.Transport
	Cache  cacheport.Cache
	Queue  qport.Client
	Router *realtime.Router
	Config *config.Config
	Log    *zap.Logger
}

// RegisterRoutes registers conversation and item endpoints under the given router group.
// It constructs per-endpoint controllers and binds them directly to routes.
func RegisterRoutes(g *gin.RouterGroup, d Deps) {
	itemRepo := repoAdapter.NewPgItemRepository(d.Pool)
	convRepo := repoAdapter.NewPgConversationRepository(d.Pool)
	profileRepo := profileAdapter.NewPgProfileRepository(d.Pool)
	lookup := repoAdapter.NewCachedItemLookup(itemRepo, d.Cache, d.Config.ItemCacheTTL, d.Log)
	reads := task.NewMarkReadEnqueuer(d.Queue)

	newSession := func(userID string) *session.Session {
		return session.New(userID, session.Deps{
			Feed:          feed.NewClient(d.Feed, d.Log),
			Lookup:        lookup,
			Snapshots:     convRepo,
			Reads:         reads,
			LookupTimeout: d.Config.EnrichmentTimeout,
			Log:           d.Log,
		})
	}

	reserveCtl := controller.NewReserveItemController(usecase.NewReserveItemUseCase(itemRepo, d.Log))
	getItemCtl := controller.NewGetItemController(usecase.NewGetItemUseCase(itemRepo, profileRepo))
	listCtl := controller.NewListConversationsController(usecase.NewListConversationsUseCase(convRepo))
	socketCtl := controller.NewConversationSocketController(d.Router, newSession, d.Log)

	// GET /api/v1/items/:itemId?user_id= -> item details and whether the viewer may enquire
	g.GET("/items/:itemId", getItemCtl.Handle())

	// POST /api/v1/items/:itemId/reserve -> reserve an item for a user
	g.POST("/items/:itemId/reserve", reserveCtl.Handle())

	// GET /api/v1/conversations?user_id= -> enriched conversation list
	g.GET("/conversations", listCtl.Handle())

	// GET /api/v1/conversations/ws?user_id= -> realtime conversation list and unread state
	g.GET("/conversations/ws", socketCtl.Handle())
}
