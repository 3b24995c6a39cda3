package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cohenjo/migration-stream/pkg/models"
	"github.com/cohenjo/migration-stream/pkg/replicator"
	"github.com/cohenjo/migration-stream/pkg/state"
)

// MigrationResponse describes the running migration
type MigrationResponse struct {
	Status   replicator.Status `json:"status"`
	Mappings []MappingInfo     `json:"mappings"`
}

// MappingInfo is one migrated collection and its current step
type MappingInfo struct {
	Source      string         `json:"source"`
	Destination string         `json:"destination"`
	CurrentStep state.StepType `json:"current_step,omitempty"`
}

// ActionResponse is the body of a successful control action
type ActionResponse struct {
	Action    string            `json:"action"`
	Status    replicator.Status `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

func (s *Server) handleMigration(w http.ResponseWriter, _ *http.Request) {
	migrationState := s.migration.MigrationState()
	mappings := s.migration.Mappings()
	response := MigrationResponse{
		Status:   s.migration.Status(),
		Mappings: make([]MappingInfo, 0, len(mappings)),
	}
	for _, mapping := range mappings {
		info := MappingInfo{
			Source:      mapping.Source.Namespace(),
			Destination: mapping.Destination.Namespace(),
		}
		if collectionState, ok := migrationState.Collection(mapping); ok {
			if step, ok := collectionState.Current(); ok {
				info.CurrentStep = step.Type
			}
		}
		response.Mappings = append(response.Mappings, info)
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	if !s.acceptsControl(w) {
		return
	}
	s.migration.Pause()
	s.writeAction(w, "pause")
}

func (s *Server) handleResume(w http.ResponseWriter, _ *http.Request) {
	if !s.acceptsControl(w) {
		return
	}
	s.migration.Resume()
	s.writeAction(w, "resume")
}

// handleStop stops the migration synchronously. The stop outlives a client
// that disconnects while waiting.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.migration.Stop(context.WithoutCancel(r.Context())); err != nil {
		log.Error().Err(err).Msg("Stop requested through the API failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeAction(w, "stop")
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.migration.MigrationState())
}

// handleCollectionState returns the timeline of the mapping whose source
// namespace is given
func (s *Server) handleCollectionState(w http.ResponseWriter, r *http.Request) {
	source, err := models.NewDbCollection(r.PathValue("namespace"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, collectionState := range s.migration.MigrationState().CollectionStates {
		if collectionState.SourceToDestination.Source == source {
			writeJSON(w, http.StatusOK, collectionState)
			return
		}
	}
	writeError(w, http.StatusNotFound, "no migration state for "+source.Namespace())
}

// acceptsControl rejects pause and resume outside a running migration
func (s *Server) acceptsControl(w http.ResponseWriter) bool {
	if status := s.migration.Status(); status != replicator.StatusRunning {
		writeError(w, http.StatusConflict, "migration is "+string(status))
		return false
	}
	return true
}

func (s *Server) writeAction(w http.ResponseWriter, action string) {
	log.Info().Str("action", action).Msg("Migration control action applied")
	writeJSON(w, http.StatusOK, ActionResponse{
		Action:    action,
		Status:    s.migration.Status(),
		Timestamp: time.Now(),
	})
}
