package city

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/worldwise-cities/internal/api"
	"github.com/FACorreiaa/worldwise-cities/internal/types"
)

type Handler struct {
	logger  *slog.Logger
	service Service
}

func NewCityHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		logger:  logger,
		service: service,
	}
}

// StatusResponse is the body of a delete.
type StatusResponse struct {
	Status string `json:"status" example:"success"`
}

// Routes mounts the city endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/cities", h.ListCities)
	r.Post("/cities", h.CreateCity)
	r.Get("/cities/{id}", h.GetCity)
	r.Delete("/cities/{id}", h.DeleteCity)
}

// ListCities godoc
// @Summary      List cities
// @Tags         cities
// @Produce      json
// @Success      200  {array}   types.City
// @Router       /cities [get]
func (h *Handler) ListCities(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("CityHandler").Start(r.Context(), "ListCities")
	defer span.End()

	cities, err := h.service.ListCities(ctx)
	if err != nil {
		h.fail(w, r, span, err, "Failed to retrieve cities")
		return
	}

	span.SetStatus(codes.Ok, "Cities returned successfully")
	api.WriteJSONResponse(w, r, http.StatusOK, cities)
}

// GetCity godoc
// @Summary      Get a city
// @Description  Responds with JSON null when no city has the id.
// @Tags         cities
// @Produce      json
// @Param        id   path      int  true  "City id"
// @Success      200  {object}  types.City
// @Router       /cities/{id} [get]
func (h *Handler) GetCity(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("CityHandler").Start(r.Context(), "GetCity")
	defer span.End()

	raw := chi.URLParam(r, "id")
	id, ok := types.ParseCityID(raw)
	if !ok {
		// a non-numeric id matches nothing
		h.logger.DebugContext(ctx, "Unparsable city id", slog.String("id", raw))
		api.WriteJSONResponse(w, r, http.StatusOK, nil)
		return
	}
	span.SetAttributes(attribute.Int64("city.id", id))

	city, err := h.service.GetCity(ctx, id)
	if err != nil {
		h.fail(w, r, span, err, "Failed to retrieve city")
		return
	}

	if city == nil {
		api.WriteJSONResponse(w, r, http.StatusOK, nil)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, city)
}

// CreateCity godoc
// @Summary      Create a city
// @Description  Any JSON object is accepted; id defaults to the current time in milliseconds.
// @Tags         cities
// @Accept       json
// @Produce      json
// @Param        city  body      types.City  true  "City attributes"
// @Success      200   {object}  types.City
// @Failure      400   {object}  map[string]interface{}
// @Failure      409   {object}  map[string]interface{}
// @Router       /cities [post]
func (h *Handler) CreateCity(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("CityHandler").Start(r.Context(), "CreateCity")
	defer span.End()

	var city types.City
	if err := api.DecodeJSONBody(w, r, &city); err != nil {
		h.logger.WarnContext(ctx, "Rejected city payload", slog.Any("error", err))
		span.SetStatus(codes.Error, "Invalid payload")
		api.ErrorResponse(w, r, api.StatusFor(err), err.Error())
		return
	}

	created, err := h.service.CreateCity(ctx, city)
	if err != nil {
		h.fail(w, r, span, err, "Failed to create city")
		return
	}

	span.SetAttributes(attribute.Int64("city.id", created.ID))
	api.WriteJSONResponse(w, r, http.StatusOK, created)
}

// DeleteCity godoc
// @Summary      Delete a city
// @Description  Succeeds even when no city has the id.
// @Tags         cities
// @Produce      json
// @Param        id   path      int  true  "City id"
// @Success      200  {object}  StatusResponse
// @Router       /cities/{id} [delete]
func (h *Handler) DeleteCity(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("CityHandler").Start(r.Context(), "DeleteCity")
	defer span.End()

	if id, ok := types.ParseCityID(chi.URLParam(r, "id")); ok {
		span.SetAttributes(attribute.Int64("city.id", id))
		if err := h.service.DeleteCity(ctx, id); err != nil {
			h.fail(w, r, span, err, "Failed to delete city")
			return
		}
	}

	api.WriteJSONResponse(w, r, http.StatusOK, StatusResponse{Status: "success"})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, err error, msg string) {
	h.logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
	span.RecordError(err)
	span.SetStatus(codes.Error, "Service operation failed")
	status := api.StatusFor(err)
	if status == http.StatusInternalServerError {
		api.ErrorResponse(w, r, status, msg)
		return
	}
	api.ErrorResponse(w, r, status, err.Error())
}
