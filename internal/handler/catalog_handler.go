package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/quickbite/foodorder/internal/catalog"
)

type CreateCategoryRequest struct {
	Name string `json:"name" validate:"required,min=2"`
}

type FoodRequest struct {
	CategoryID  int64  `json:"category_id" validate:"required,gt=0"`
	Name        string `json:"name" validate:"required,min=2"`
	Description string `json:"description"`
	ImageURL    string `json:"image_url" validate:"omitempty,url"`
	Price       int64  `json:"price" validate:"gte=0"`
	Available   *bool  `json:"available"`
}

// CatalogHandler exposes the public menu and the admin menu CRUD.
type CatalogHandler struct {
	svc      catalog.Service
	validate *validator.Validate
}

func NewCatalogHandler(svc catalog.Service) *CatalogHandler {
	return &CatalogHandler{svc: svc, validate: validator.New()}
}

func (h *CatalogHandler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/menu", h.handleGetMenu)
}

func (h *CatalogHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/categories", h.handleCreateCategory)
	r.Delete("/categories/{id}", h.handleDeleteCategory)
	r.Post("/food", h.handleCreateFood)
	r.Put("/food/{id}", h.handleUpdateFood)
	r.Delete("/food/{id}", h.handleDeleteFood)
}

func (h *CatalogHandler) handleGetMenu(w http.ResponseWriter, r *http.Request) {
	menu, err := h.svc.GetMenu(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, menu)
}

func (h *CatalogHandler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req CreateCategoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return
	}

	c, err := h.svc.CreateCategory(r.Context(), req.Name)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, c)
}

func (h *CatalogHandler) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid category id")
		return
	}

	if err := h.svc.DeleteCategory(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "category deleted"})
}

func (h *CatalogHandler) handleCreateFood(w http.ResponseWriter, r *http.Request) {
	f, ok := h.decodeFood(w, r)
	if !ok {
		return
	}

	if err := h.svc.CreateFood(r.Context(), f); err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, f)
}

func (h *CatalogHandler) handleUpdateFood(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid food id")
		return
	}

	f, ok := h.decodeFood(w, r)
	if !ok {
		return
	}
	f.ID = id

	if err := h.svc.UpdateFood(r.Context(), f); err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, f)
}

func (h *CatalogHandler) handleDeleteFood(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid food id")
		return
	}

	if err := h.svc.DeleteFood(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "food deleted"})
}

func (h *CatalogHandler) decodeFood(w http.ResponseWriter, r *http.Request) (*catalog.Food, bool) {
	var req FoodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if err := h.validate.Struct(req); err != nil {
		respondValidation(w, err)
		return nil, false
	}

	available := true
	if req.Available != nil {
		available = *req.Available
	}

	return &catalog.Food{
		CategoryID:  req.CategoryID,
		Name:        req.Name,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Price:       req.Price,
		Available:   available,
	}, true
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, strconv.ErrSyntax
	}
	return id, nil
}
