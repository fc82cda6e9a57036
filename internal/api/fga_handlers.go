package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lavente-care/ciam/internal/api/helpers"
	"github.com/lavente-care/ciam/internal/fga"
	"github.com/lavente-care/ciam/internal/store"
)

// fgaStoreFromURL resolves the {storeID} path parameter to its row, the
// shared first step of every FGA endpoint below.
func (s *Server) fgaStoreFromURL(r *http.Request) (store.FgaStore, error) {
	id, err := uuid.Parse(chi.URLParam(r, "storeID"))
	if err != nil {
		return store.FgaStore{}, err
	}
	return s.DB.GetFgaStore(r.Context(), id)
}

type checkRequest struct {
	Object   fga.ObjectRef  `json:"object"`
	Relation string         `json:"relation"`
	Subject  fga.SubjectRef `json:"subject"`
}

// FGACheck serves POST /fga/stores/{storeID}/check.
func (s *Server) FGACheck(w http.ResponseWriter, r *http.Request) {
	fgaStore, err := s.fgaStoreFromURL(r)
	if err != nil {
		helpers.RespondError(w, http.StatusNotFound, "store not found")
		return
	}
	var req checkRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	allowed, err := s.FGA.Check(r.Context(), fgaStore.ID, fgaStore.CurrentModelVersion, req.Object, req.Relation, req.Subject)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "check failed")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

type expandRequest struct {
	Object   fga.ObjectRef `json:"object"`
	Relation string        `json:"relation"`
}

// FGAExpand serves POST /fga/stores/{storeID}/expand.
func (s *Server) FGAExpand(w http.ResponseWriter, r *http.Request) {
	fgaStore, err := s.fgaStoreFromURL(r)
	if err != nil {
		helpers.RespondError(w, http.StatusNotFound, "store not found")
		return
	}
	var req expandRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	node, err := s.FGA.Expand(r.Context(), fgaStore.ID, req.Object, req.Relation)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "expand failed")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, node)
}

type listObjectsRequest struct {
	ObjectType string         `json:"object_type"`
	Relation   string         `json:"relation"`
	Subject    fga.SubjectRef `json:"subject"`
	Limit      int            `json:"limit"`
}

// FGAListObjects serves POST /fga/stores/{storeID}/list-objects.
func (s *Server) FGAListObjects(w http.ResponseWriter, r *http.Request) {
	fgaStore, err := s.fgaStoreFromURL(r)
	if err != nil {
		helpers.RespondError(w, http.StatusNotFound, "store not found")
		return
	}
	var req listObjectsRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit := req.Limit
	if limit <= 0 || limit > s.Config.FGAListObjectsCap {
		limit = s.Config.FGAListObjectsCap
	}
	result, err := s.FGA.ListObjects(r.Context(), fgaStore.ID, fgaStore.CurrentModelVersion, req.ObjectType, req.Relation, req.Subject, limit)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "list_objects failed")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, result)
}

type tupleRequest struct {
	ObjectType      string           `json:"object_type"`
	ObjectID        string           `json:"object_id"`
	Relation        string           `json:"relation"`
	SubjectType     store.SubjectType `json:"subject_type"`
	SubjectID       string           `json:"subject_id"`
	SubjectRelation string           `json:"subject_relation,omitempty"`
}

func (t tupleRequest) toTuple() store.RelationTuple {
	return store.RelationTuple{
		ObjectType: t.ObjectType, ObjectID: t.ObjectID, Relation: t.Relation,
		SubjectType: t.SubjectType, SubjectID: t.SubjectID, SubjectRelation: t.SubjectRelation,
	}
}

type tupleBatchRequest struct {
	Writes  []tupleRequest `json:"writes,omitempty"`
	Deletes []tupleRequest `json:"deletes,omitempty"`
}

// applyTupleBatch runs the validated batch inside one transaction so a
// schema violation (or any mid-batch failure) leaves the store untouched.
func (s *Server) applyTupleBatch(w http.ResponseWriter, r *http.Request, writes, deletes []store.RelationTuple) {
	fgaStore, err := s.fgaStoreFromURL(r)
	if err != nil {
		helpers.RespondError(w, http.StatusNotFound, "store not found")
		return
	}
	tx, err := s.Pool.Begin(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to start transaction")
		return
	}
	defer tx.Rollback(r.Context())

	if err := s.FGA.ApplyWrites(r.Context(), s.DB.WithTx(tx), fgaStore.ID, writes, deletes); err != nil {
		if errors.Is(err, fga.ErrSchemaViolation) {
			helpers.RespondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		helpers.RespondError(w, http.StatusInternalServerError, "failed to apply tuple changes")
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to commit tuple changes")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FGAWriteTuple serves POST /fga/stores/{storeID}/tuples with a
// {writes[], deletes[]} batch body.
func (s *Server) FGAWriteTuple(w http.ResponseWriter, r *http.Request) {
	var req tupleBatchRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Writes) == 0 && len(req.Deletes) == 0 {
		helpers.RespondError(w, http.StatusBadRequest, "empty batch")
		return
	}
	writes := make([]store.RelationTuple, 0, len(req.Writes))
	for _, t := range req.Writes {
		writes = append(writes, t.toTuple())
	}
	deletes := make([]store.RelationTuple, 0, len(req.Deletes))
	for _, t := range req.Deletes {
		deletes = append(deletes, t.toTuple())
	}
	s.applyTupleBatch(w, r, writes, deletes)
}

// FGADeleteTuple serves DELETE /fga/stores/{storeID}/tuples with a single
// tuple body.
func (s *Server) FGADeleteTuple(w http.ResponseWriter, r *http.Request) {
	var req tupleRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.applyTupleBatch(w, r, nil, []store.RelationTuple{req.toTuple()})
}

// FGAListTuples serves GET /fga/stores/{storeID}/tuples?object_type=&object_id=&relation=.
func (s *Server) FGAListTuples(w http.ResponseWriter, r *http.Request) {
	fgaStore, err := s.fgaStoreFromURL(r)
	if err != nil {
		helpers.RespondError(w, http.StatusNotFound, "store not found")
		return
	}
	q := r.URL.Query()
	tuples, err := s.DB.ListTuplesForObjectRelation(r.Context(), fgaStore.ID, q.Get("object_type"), q.Get("object_id"), q.Get("relation"))
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to list tuples")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, tuples)
}

type createModelRequest struct {
	Schema fga.Schema `json:"schema"`
}

// FGACreateModel serves POST /fga/stores/{storeID}/models, validating the
// rewrite graph before it's persisted and immediately promoting it — this
// deployment has no separate "draft model" review step.
func (s *Server) FGACreateModel(w http.ResponseWriter, r *http.Request) {
	fgaStore, err := s.fgaStoreFromURL(r)
	if err != nil {
		helpers.RespondError(w, http.StatusNotFound, "store not found")
		return
	}
	var req createModelRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	problems := fga.ValidateSchema(req.Schema)
	raw, err := fga.MarshalSchema(req.Schema)
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid schema")
		return
	}
	version := fgaStore.CurrentModelVersion + 1
	if err := s.DB.CreateAuthorizationModel(r.Context(), fgaStore.ID, version, raw, len(problems) == 0, problems); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to create model")
		return
	}
	if len(problems) > 0 {
		helpers.RespondJSON(w, http.StatusUnprocessableEntity, map[string]any{"version": version, "errors": problems})
		return
	}
	if err := s.DB.PromoteAuthorizationModel(r.Context(), fgaStore.ID, version); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "failed to promote model")
		return
	}
	helpers.RespondJSON(w, http.StatusCreated, map[string]int64{"version": version})
}

// FGACurrentModel serves GET /fga/stores/{storeID}/models/current.
func (s *Server) FGACurrentModel(w http.ResponseWriter, r *http.Request) {
	fgaStore, err := s.fgaStoreFromURL(r)
	if err != nil {
		helpers.RespondError(w, http.StatusNotFound, "store not found")
		return
	}
	model, err := s.DB.GetCurrentAuthorizationModel(r.Context(), fgaStore.ID)
	if err != nil {
		helpers.RespondError(w, http.StatusNotFound, "no current model")
		return
	}
	var schema json.RawMessage = model.Schema
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"version": model.Version, "schema": schema})
}
