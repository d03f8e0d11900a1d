package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/clinalytics/chf-pipeline/pkg/common/config"
	"github.com/clinalytics/chf-pipeline/pkg/common/logger"
	"github.com/clinalytics/chf-pipeline/pkg/engine"
	"github.com/clinalytics/chf-pipeline/pkg/features"
)

type RecommendationService struct {
	engine *engine.DecisionEngine
}

type observation struct {
	HadmID    int                `json:"hadm_id"`
	Sex       string             `json:"sex"`
	Age       float64            `json:"age"`
	Treatment string             `json:"treatment"`
	Features  map[string]float64 `json:"features"`
}

type recommendation struct {
	HadmID              int     `json:"hadm_id"`
	Treatment           string  `json:"treatment"`
	ProbabilityOfLiving float64 `json:"probability_of_living"`
}

func main() {
	logger.Init()
	cfg := config.Load()

	eng, ok, err := engine.NewModelCache(cfg.ModelPath).Load()
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load decision engine")
	}
	if !ok {
		logger.Log.WithField("path", cfg.ModelPath).Fatal("No fitted decision engine found")
	}

	service := &RecommendationService{engine: eng}

	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/api/v1/recommendations", service.handleRecommendations).Methods("POST")
	router.HandleFunc("/api/v1/treatments", service.handleTreatments).Methods("GET")
	router.HandleFunc("/api/v1/importance/{model}", service.handleImportance).Methods("GET")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Recommendation server started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down recommendation server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Recommendation server stopped")
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}

func (s *RecommendationService) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Observations []observation `json:"observations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if len(req.Observations) == 0 {
		http.Error(w, "No observations provided", http.StatusBadRequest)
		return
	}

	records := make([]features.TrainingRecord, len(req.Observations))
	for i, obs := range req.Observations {
		records[i] = features.TrainingRecord{
			HadmID:    obs.HadmID,
			Treatment: obs.Treatment,
			Sex:       obs.Sex,
			Age:       obs.Age,
			Features:  obs.Features,
		}
	}

	suggestions, err := s.engine.TreatmentSuggestions(records)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := make([]recommendation, len(suggestions))
	for i, sugg := range suggestions {
		response[i] = recommendation{
			HadmID:              req.Observations[sugg.SampleID].HadmID,
			Treatment:           sugg.Treatment,
			ProbabilityOfLiving: sugg.ProbabilityOfLiving,
		}
	}

	logger.Log.WithField("observations", len(records)).Debug("Recommendations computed")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"recommendations": response,
	})
}

func (s *RecommendationService) handleTreatments(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"treatments": s.engine.Treatments(),
	})
}

func (s *RecommendationService) handleImportance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var (
		importance interface{}
		err        error
	)
	switch vars["model"] {
	case "outcome":
		importance, err = s.engine.OutcomeFeatureImportance()
	case "treatment":
		importance, err = s.engine.TreatmentFeatureImportance()
	default:
		http.Error(w, "Unknown model; use outcome or treatment", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"model":      vars["model"],
		"importance": importance,
	})
}
