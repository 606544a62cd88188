// Package graph serves the indexed campaigns as a read-only GraphQL API.
//
// The schema is small enough that its resolvers are written by hand against
// gqlgen's executor: handler.Server handles transports, parsing, validation
// and complexity limits, and executableSchema resolves the validated
// operation against the store.
package graph

import (
	_ "embed"
	"errors"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/extension"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/0xredeth/doneth/internal/store"
)

// ComplexityLimit caps the cost of one operation. List fields cost their
// limit times the cost of one item.
const ComplexityLimit = 5000

//go:embed schema.graphqls
var schemaSource string

var schema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: schemaSource})

// Server is the GraphQL endpoint plus a playground.
type Server struct {
	store *store.Store
	now   func() time.Time
	mux   *http.ServeMux
}

// New builds the server. Queries are served at /graphql and the playground
// at /.
func New(st *store.Store) (*Server, error) {
	if st == nil {
		return nil, errors.New("graph: store is required")
	}

	s := &Server{store: st, now: time.Now}

	gql := handler.New(&executableSchema{server: s})
	gql.AddTransport(transport.Options{})
	gql.AddTransport(transport.GET{})
	gql.AddTransport(transport.POST{})
	gql.Use(extension.FixedComplexityLimit(ComplexityLimit))

	s.mux = http.NewServeMux()
	s.mux.Handle("/graphql", gql)
	s.mux.Handle("/", playground.Handler("Doneth", "/graphql"))
	return s, nil
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.mux }
