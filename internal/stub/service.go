// Package stub is the reference backend of the provenance contract: every
// response echoes X-Request-ID and every JSON body embeds request_id.
package stub

import (
	"bytes"
	"encoding/csv"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/reconai/auditkit/confidence"
	"github.com/reconai/auditkit/httpserver"
	"github.com/reconai/auditkit/middleware"
)

type Service struct {
	store   *Store
	started time.Time
}

func New(store *Store) *Service {
	return &Service{store: store, started: time.Now()}
}

// Register mounts the routes on root. v1 middleware (auth, rate limiting)
// applies to /v1 only; /api/health stays open.
func (s *Service) Register(root *echo.Group, v1Middleware ...echo.MiddlewareFunc) {
	root.GET("/api/health", httpserver.Wrapper("CheckHealth", s.CheckHealth))

	v1 := root.Group("/v1", v1Middleware...)
	v1.GET("/things", httpserver.Wrapper("ListThings", s.ListThings))
	v1.POST("/things", httpserver.Wrapper("CreateThing", s.CreateThing))
	v1.GET("/things/:id", httpserver.Wrapper("GetThing", s.GetThing))
	v1.PATCH("/things/:id", httpserver.Wrapper("UpdateThing", s.UpdateThing))
	v1.DELETE("/things/:id", httpserver.Wrapper("DeleteThing", s.DeleteThing))
	v1.GET("/export.csv", s.ExportCSV)
	v1.GET("/confidence/:score", httpserver.Wrapper("GetConfidence", s.GetConfidence))
	v1.GET("/whoami", httpserver.Wrapper("WhoAmI", s.WhoAmI))
}

type HealthRequest struct{}

type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Things int    `json:"things"`
}

func (s *Service) CheckHealth(
	_ zerolog.Logger,
	_ *echo.Context,
	_ *HealthRequest,
) (*httpserver.HandlerResponse[HealthResponse], error) {
	return httpserver.OK(HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
		Things: s.store.Len(),
	}), nil
}

type ThingResponse struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Confidence        decimal.Decimal `json:"confidence"`
	ConfidencePercent string          `json:"confidence_percent"`
	ConfidenceBand    confidence.Band `json:"confidence_band"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func toThingResponse(thing Thing) ThingResponse {
	score := confidence.New(thing.Confidence)

	return ThingResponse{
		ID:                thing.ID,
		Name:              thing.Name,
		Confidence:        score.Decimal(),
		ConfidencePercent: score.Percent(),
		ConfidenceBand:    score.Band(),
		CreatedAt:         thing.CreatedAt,
		UpdatedAt:         thing.UpdatedAt,
	}
}

type ListThingsRequest struct {
	httpserver.PageQuery

	Query string `query:"q" validate:"max=100"`
}

func (s *Service) ListThings(
	logger zerolog.Logger,
	_ *echo.Context,
	req *ListThingsRequest,
) (*httpserver.HandlerResponse[[]ThingResponse], error) {
	offset := req.Normalize()

	things, total := s.store.List(req.Query, offset, req.PageSize)

	items := make([]ThingResponse, 0, len(things))
	for _, thing := range things {
		items = append(items, toThingResponse(thing))
	}

	logger.Debug().Int("total_count", total).Int("returned", len(items)).Msg("Things listed")

	res := httpserver.OK(items)
	res.Pagination = req.Pagination(total)

	return res, nil
}

type CreateThingRequest struct {
	Name       string   `json:"name"       validate:"required,min=1,max=100"`
	Confidence *float64 `json:"confidence" validate:"omitempty,confidence"`
}

func (s *Service) CreateThing(
	logger zerolog.Logger,
	_ *echo.Context,
	req *CreateThingRequest,
) (*httpserver.HandlerResponse[ThingResponse], error) {
	score := decimal.Zero
	if req.Confidence != nil {
		score = decimal.NewFromFloat(*req.Confidence)
	}

	thing := s.store.Create(req.Name, score)

	logger.Info().Str("thing_id", thing.ID).Msg("Thing created")

	return httpserver.Created(toThingResponse(thing)), nil
}

type ThingIDRequest struct {
	ID string `param:"id" validate:"required,uuid"`
}

func (s *Service) GetThing(
	_ zerolog.Logger,
	_ *echo.Context,
	req *ThingIDRequest,
) (*httpserver.HandlerResponse[ThingResponse], error) {
	thing, err := s.store.Get(req.ID)
	if err != nil {
		return nil, thingError(err)
	}

	return httpserver.OK(toThingResponse(thing)), nil
}

type UpdateThingRequest struct {
	ID         string   `param:"id"         validate:"required,uuid"`
	Name       *string  `json:"name"       validate:"omitempty,min=1,max=100"`
	Confidence *float64 `json:"confidence" validate:"omitempty,confidence"`
}

func (s *Service) UpdateThing(
	logger zerolog.Logger,
	_ *echo.Context,
	req *UpdateThingRequest,
) (*httpserver.HandlerResponse[ThingResponse], error) {
	patch := ThingPatch{Name: req.Name, Confidence: nil}

	if req.Confidence != nil {
		score := decimal.NewFromFloat(*req.Confidence)
		patch.Confidence = &score
	}

	thing, err := s.store.Update(req.ID, patch)
	if err != nil {
		return nil, thingError(err)
	}

	logger.Info().Str("thing_id", thing.ID).Msg("Thing updated")

	return httpserver.OK(toThingResponse(thing)), nil
}

func (s *Service) DeleteThing(
	logger zerolog.Logger,
	_ *echo.Context,
	req *ThingIDRequest,
) (*httpserver.HandlerResponse[struct{}], error) {
	if err := s.store.Delete(req.ID); err != nil {
		return nil, thingError(err)
	}

	logger.Info().Str("thing_id", req.ID).Msg("Thing deleted")

	return httpserver.NoContent[struct{}](), nil
}

// ExportCSV writes every thing as CSV. The body carries no request_id; the
// X-Request-ID header still does.
func (s *Service) ExportCSV(c *echo.Context) error {
	things := s.store.All()

	var buf bytes.Buffer

	writer := csv.NewWriter(&buf)
	_ = writer.Write([]string{"id", "name", "confidence", "band"})

	for _, thing := range things {
		score := confidence.New(thing.Confidence)
		_ = writer.Write([]string{thing.ID, thing.Name, score.Decimal().String(), string(score.Band())})
	}

	writer.Flush()

	if err := writer.Error(); err != nil {
		return httpserver.HTTPError(http.StatusInternalServerError, err, "failed to render export")
	}

	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

type ConfidenceRequest struct {
	Score string `param:"score" validate:"required,max=32"`
}

type ConfidenceResponse struct {
	Score   decimal.Decimal `json:"score"`
	Percent string          `json:"percent"`
	Band    confidence.Band `json:"band"`
}

func (s *Service) GetConfidence(
	_ zerolog.Logger,
	_ *echo.Context,
	req *ConfidenceRequest,
) (*httpserver.HandlerResponse[ConfidenceResponse], error) {
	score, err := confidence.Parse(req.Score)
	if err != nil {
		return nil, httpserver.HTTPError(http.StatusBadRequest, err, "score must be a fraction or a percentage")
	}

	return httpserver.OK(ConfidenceResponse{
		Score:   score.Decimal(),
		Percent: score.Percent(),
		Band:    score.Band(),
	}), nil
}

type WhoAmIRequest struct{}

type WhoAmIResponse struct {
	Authenticated bool   `json:"authenticated"`
	Subject       string `json:"subject,omitempty"`
	ClientID      string `json:"client_id,omitempty"`
	OrgID         string `json:"org_id,omitempty"`
}

func (s *Service) WhoAmI(
	_ zerolog.Logger,
	c *echo.Context,
	_ *WhoAmIRequest,
) (*httpserver.HandlerResponse[WhoAmIResponse], error) {
	claims, err := middleware.GetExtendedClaims(c)
	if err != nil {
		return httpserver.OK(WhoAmIResponse{Authenticated: false}), nil //nolint:exhaustruct
	}

	return httpserver.OK(WhoAmIResponse{
		Authenticated: true,
		Subject:       claims.Subject,
		ClientID:      claims.GetAzp(),
		OrgID:         claims.OrgID,
	}), nil
}

func thingError(err error) error {
	if errors.Is(err, ErrThingNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "thing not found")
	}

	return httpserver.HTTPError(http.StatusInternalServerError, err)
}
