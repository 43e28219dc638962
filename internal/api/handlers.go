package api

import (
	"net/http"
	"strconv"

	"github.com/joaquinllenado/recurve-ai/internal/validation"
	"github.com/joaquinllenado/recurve-ai/pkg/models"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodGet) {
		return
	}
	h, err := s.agent.Health(r.Context())
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, h)
}

type productRequest struct {
	Description string `json:"description"`
}

// handleProduct ingests a product description
// POST /api/product
func (s *Server) handleProduct(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodPost) {
		return
	}
	var req productRequest
	if err := s.parseJSON(w, r, &req, false); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	strategy, err := s.agent.Ingest(r.Context(), req.Description)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, strategy)
}

// handleStrategy returns the latest strategy, or ?version=N
// GET /api/strategy
func (s *Server) handleStrategy(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodGet) {
		return
	}
	var (
		strategy *models.Strategy
		err      error
	)
	if v := r.URL.Query().Get("version"); v != "" {
		version, convErr := strconv.Atoi(v)
		if convErr != nil || version < 1 {
			s.respondError(w, http.StatusBadRequest, "version must be a positive integer")
			return
		}
		strategy, err = s.agent.Strategy(r.Context(), version)
	} else {
		strategy, err = s.agent.LatestStrategy(r.Context())
	}
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, strategy)
}

// handleEvolve evolves the latest strategy from its unconsumed lessons
// POST /api/strategy/evolve
func (s *Server) handleEvolve(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodPost) {
		return
	}
	strategy, err := s.agent.EvolveLatest(r.Context())
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, strategy)
}

// handleStrategies returns the version chain
// GET /api/strategies
func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodGet) {
		return
	}
	chain, err := s.agent.Strategies(r.Context())
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"strategies": chain,
		"count":      len(chain),
	})
}

type companiesRequest struct {
	Companies []*models.Company `json:"companies"`
}

// handleCompanies lists or ingests leads
// GET, POST /api/companies
func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if r.Method == http.MethodGet {
		companies, err := s.agent.Companies(r.Context())
		if err != nil {
			s.respondFault(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"companies": companies,
			"count":     len(companies),
		})
		return
	}

	var req companiesRequest
	if err := s.parseJSON(w, r, &req, false); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Companies) == 0 {
		s.respondError(w, http.StatusBadRequest, "companies must not be empty")
		return
	}
	n, err := s.agent.AddCompanies(r.Context(), req.Companies)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]int{"added": n})
}

// handleValidate classifies a strategy's targets and runs the pivot check
// POST /api/validate
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodPost) {
		return
	}
	var req validation.ValidateRequest
	if err := s.parseJSON(w, r, &req, true); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	report, err := s.agent.Validate(r.Context(), req)
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

// handleSeed loads the demo lead set
// POST /api/seed
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodPost) {
		return
	}
	n, err := s.agent.Seed(r.Context())
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"seeded": n})
}

// handleReset wipes the knowledge store
// POST /api/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodPost) {
		return
	}
	deleted, err := s.agent.Reset(r.Context())
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// GET /api/graph
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodGet) {
		return
	}
	g, err := s.agent.Graph(r.Context())
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, g)
}

// GET /api/lessons?limit=N
func (s *Server) handleLessons(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodGet) {
		return
	}
	lessons, err := s.agent.Lessons(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"lessons": lessons,
		"count":   len(lessons),
	})
}

// GET /api/pivots?limit=N
func (s *Server) handlePivots(w http.ResponseWriter, r *http.Request) {
	if !s.methodAllowed(w, r, http.MethodGet) {
		return
	}
	pivots, err := s.agent.Pivots(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.respondFault(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"pivots": pivots,
		"count":  len(pivots),
	})
}
