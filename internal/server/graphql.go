package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/nucleus/blog-api/internal/metrics"
)

const maxBodyBytes = 1 << 20

type gqlRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// serveGraphQL executes POST bodies with the relay handler, turns GET query
// strings into the same body, and hands websocket upgrades to the
// subscription transport.
func (s *Server) serveGraphQL(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.serveWebSocket(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.serveGet(w, r)
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		s.relay.ServeHTTP(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) serveGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := gqlRequest{
		Query:         q.Get("query"),
		OperationName: q.Get("operationName"),
	}
	if req.Query == "" {
		if s.playground != nil {
			s.playground.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if vars := q.Get("variables"); vars != "" {
		if err := json.Unmarshal([]byte(vars), &req.Variables); err != nil {
			writeError(w, http.StatusBadRequest, "variables must be a JSON object")
			return
		}
	}
	if isMutation(req.Query, req.OperationName) {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "mutations must be sent with POST")
		return
	}

	body, err := json.Marshal(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	post := r.Clone(r.Context())
	post.Method = http.MethodPost
	post.Body = io.NopCloser(bytes.NewReader(body))
	post.ContentLength = int64(len(body))
	post.Header.Set("Content-Type", "application/json")
	s.relay.ServeHTTP(w, post)
}

// isMutation reports whether the operation selected by name is a mutation.
// Documents that fail to parse are left to the engine to reject.
func isMutation(query, operationName string) bool {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return false
	}

	var op *ast.OperationDefinition
	for _, candidate := range doc.Operations {
		if operationName == "" || candidate.Name == operationName {
			if op != nil && operationName == "" {
				return false
			}
			op = candidate
		}
	}
	return op != nil && op.Operation == ast.Mutation
}

// instrument records GraphQL operation counts and latency by response status.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		outcome := "ok"
		if rec.status >= http.StatusBadRequest {
			outcome = "error"
		}
		metrics.GraphQLOperations.WithLabelValues("http", outcome).Inc()
		metrics.GraphQLDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"errors": []map[string]string{{"message": message}},
	})
}
