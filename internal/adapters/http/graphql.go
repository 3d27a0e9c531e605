package http

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"github.com/samirrijal/saferoute/internal/core/domain"
)

// linkIDType carries 64-bit link ids, which overflow GraphQL's Int.
var linkIDType = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "LinkID",
	Description: "64-bit road link identifier, serialized as a JSON number.",
	Serialize: func(value interface{}) interface{} {
		switch v := value.(type) {
		case int64:
			return v
		case *int64:
			if v == nil {
				return nil
			}
			return *v
		}
		return nil
	},
	ParseValue: func(value interface{}) interface{} {
		switch v := value.(type) {
		case float64:
			return int64(v)
		case int:
			return int64(v)
		case int64:
			return v
		}
		return nil
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		if v, ok := valueAST.(*ast.IntValue); ok {
			if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
				return n
			}
		}
		return nil
	},
})

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	avoidType := graphql.NewObject(graphql.ObjectConfig{
		Name:        "AvoidLinkIds",
		Description: "Road links classified by incident density.",
		Fields: graphql.Fields{
			"red": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(linkIDType))),
				Description: "Links with more than two incidents.",
			},
			"yellow": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(linkIDType))),
				Description: "Links with exactly two incidents.",
			},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"avoidLinkIds": &graphql.Field{
				Type:        avoidType,
				Description: "Classify the links inside the box spanned by two corners",
				Args: graphql.FieldConfigArgument{
					"fromLat": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"fromLng": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"toLat":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"toLng":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					from := &domain.Coordinate{Lat: p.Args["fromLat"].(float64), Lng: p.Args["fromLng"].(float64)}
					to := &domain.Coordinate{Lat: p.Args["toLat"].(float64), Lng: p.Args["toLng"].(float64)}

					result, err := deps.Avoid.GetAvoidLinkIds(p.Context, from, to)
					if err != nil {
						if errors.Is(err, domain.ErrStoreUnavailable) {
							LoggerFromCtx(p.Context).Error("graphql avoidLinkIds failed", "error", err)
							return nil, domain.ErrStoreUnavailable
						}
						return nil, err
					}
					return map[string]interface{}{
						"red":    result.Red,
						"yellow": result.Yellow,
					}, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
