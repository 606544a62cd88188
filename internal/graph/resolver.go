package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/99designs/gqlgen/graphql"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/0xredeth/doneth/internal/store"
	models "github.com/0xredeth/doneth/pkg/store"
)

var (
	errBadArgument = errors.New("invalid argument")

	// errNulled marks a field whose error is already recorded. It travels up
	// to the nearest nullable field.
	errNulled = errors.New("field nulled")
)

var campaignOrders = map[string]string{
	"TOTAL":   "total_contributions",
	"CREATED": "created_at",
}

type executableSchema struct {
	server *Server
}

func (e *executableSchema) Schema() *ast.Schema { return schema }

func (e *executableSchema) Complexity(_ context.Context, typeName, field string, childComplexity int, args map[string]any) (int, bool) {
	switch typeName + "." + field {
	case "Query.campaigns", "Query.contributions", "Campaign.contributions":
		limit := store.DefaultLimit
		if n, err := intArg(args, "limit"); err == nil && n > 0 {
			limit = min(n, store.MaxLimit)
		}
		return 1 + limit*childComplexity, true
	}
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	oc := graphql.GetOperationContext(ctx)
	if oc.Operation.Operation != ast.Query {
		return graphql.OneShot(graphql.ErrorResponse(ctx, "unsupported operation %s", oc.Operation.Operation))
	}

	r := &resolution{server: e.server, oc: oc}
	resp := &graphql.Response{}

	data, err := r.query(ctx, oc.Operation.SelectionSet)
	if err == nil {
		raw, merr := json.Marshal(data)
		if merr != nil {
			return graphql.OneShot(graphql.ErrorResponse(ctx, "encoding response: %v", merr))
		}
		resp.Data = raw
	}
	resp.Errors = r.errs
	return graphql.OneShot(resp)
}

// resolution resolves one operation and collects its errors.
type resolution struct {
	server *Server
	oc     *graphql.OperationContext
	errs   gqlerror.List
}

// fail records err at path and returns errNulled.
func (r *resolution) fail(path ast.Path, err error) error {
	msg := err.Error()
	if !errors.Is(err, errBadArgument) {
		log.Error().Err(err).Str("path", path.String()).Msg("graphql field failed")
		msg = "internal error"
	}
	r.errs = append(r.errs, &gqlerror.Error{Message: msg, Path: path})
	return errNulled
}

func (r *resolution) fields(sel ast.SelectionSet, typeName string) []graphql.CollectedField {
	return graphql.CollectFields(r.oc, sel, []string{typeName})
}

func (r *resolution) args(f graphql.CollectedField) map[string]any {
	return f.ArgumentMap(r.oc.Variables)
}

func (r *resolution) query(ctx context.Context, sel ast.SelectionSet) (object, error) {
	fields := r.fields(sel, "Query")
	out := make(object, 0, len(fields))

	for _, f := range fields {
		path := at(nil, ast.PathName(f.Alias))
		var v any

		switch f.Name {
		case "__typename":
			v = "Query"
		case "campaigns":
			list, err := r.campaigns(ctx, f, path)
			if err != nil {
				return nil, err
			}
			v = list
		case "campaign":
			// Nullable: an error nulls the field only.
			obj, err := r.campaignByAddress(ctx, f, path)
			if err == nil && obj != nil {
				v = obj
			}
		case "contributions":
			args := r.args(f)
			contributor, err := addressArg(args, "contributor")
			if err != nil {
				return nil, r.fail(path, err)
			}
			page, err := pageArgs(args)
			if err != nil {
				return nil, r.fail(path, err)
			}
			rows, _, err := r.server.store.ContributionsByContributor(ctx, contributor, page)
			if err != nil {
				return nil, r.fail(path, err)
			}
			list, err := r.contributionList(ctx, rows, f.Selections, path)
			if err != nil {
				return nil, err
			}
			v = list
		default:
			return nil, r.fail(path, fmt.Errorf("%w: field %s is not served", errBadArgument, f.Name))
		}

		out = append(out, member{f.Alias, v})
	}
	return out, nil
}

func (r *resolution) campaigns(ctx context.Context, f graphql.CollectedField, path ast.Path) ([]object, error) {
	args := r.args(f)

	page, err := pageArgs(args)
	if err != nil {
		return nil, r.fail(path, err)
	}
	q := store.CampaignQuery{
		OrderBy:  campaignOrders["TOTAL"],
		OrderDir: "DESC",
		Limit:    page.Limit,
		Offset:   page.Offset,
	}
	if order, ok := args["orderBy"].(string); ok {
		q.OrderBy = campaignOrders[order]
	}
	if dir, ok := args["direction"].(string); ok {
		q.OrderDir = dir
	}
	if active, ok := args["active"].(bool); ok && active {
		now := uint64(r.server.now().Unix())
		q.ActiveAt = &now
	}
	if raw, ok := args["beneficiary"].(string); ok {
		if q.Beneficiary, err = parseAddress(raw); err != nil {
			return nil, r.fail(path, err)
		}
	}

	rows, _, err := r.server.store.ListCampaigns(ctx, q)
	if err != nil {
		return nil, r.fail(path, err)
	}

	out := make([]object, 0, len(rows))
	for i, c := range rows {
		obj, err := r.campaign(ctx, c, f.Selections, at(path, ast.PathIndex(i)))
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// campaignByAddress returns nil for an unknown campaign.
func (r *resolution) campaignByAddress(ctx context.Context, f graphql.CollectedField, path ast.Path) (object, error) {
	addr, err := addressArg(r.args(f), "address")
	if err != nil {
		return nil, r.fail(path, err)
	}
	c, err := r.server.store.GetCampaign(ctx, addr)
	if err != nil {
		return nil, r.fail(path, err)
	}
	if c == nil {
		return nil, nil
	}
	return r.campaign(ctx, *c, f.Selections, path)
}

func (r *resolution) campaign(ctx context.Context, c models.Campaign, sel ast.SelectionSet, path ast.Path) (object, error) {
	fields := r.fields(sel, "Campaign")
	out := make(object, 0, len(fields))

	for _, f := range fields {
		var v any
		switch f.Name {
		case "__typename":
			v = "Campaign"
		case "address":
			v = c.Address
		case "name":
			v = c.Name
		case "beneficiary":
			v = c.Beneficiary
		case "currency":
			v = c.Currency
		case "goal":
			v = c.Goal
		case "deadline":
			v = c.Deadline
		case "withdrawalPeriod":
			v = c.WithdrawalPeriod
		case "withdrawalDeadline":
			v = c.WithdrawalDeadline
		case "totalContributions":
			v = c.TotalContributions
		case "totalWithdrawn":
			v = c.TotalWithdrawn
		case "state":
			v = c.State
		case "active":
			v = c.Active(uint64(r.server.now().Unix()))
		case "createdBlock":
			v = c.CreatedBlock
		case "createdAt":
			v = c.CreatedAt.Unix()
		case "contributions":
			fpath := at(path, ast.PathName(f.Alias))
			page, err := pageArgs(r.args(f))
			if err != nil {
				return nil, r.fail(fpath, err)
			}
			rows, _, err := r.server.store.ContributionsByCampaign(ctx, c.Address, page)
			if err != nil {
				return nil, r.fail(fpath, err)
			}
			list, err := r.contributionList(ctx, rows, f.Selections, fpath)
			if err != nil {
				return nil, err
			}
			v = list
		}
		out = append(out, member{f.Alias, v})
	}
	return out, nil
}

func (r *resolution) contributionList(ctx context.Context, rows []models.Contribution, sel ast.SelectionSet, path ast.Path) ([]object, error) {
	out := make([]object, 0, len(rows))
	for i, c := range rows {
		obj, err := r.contribution(ctx, c, sel, at(path, ast.PathIndex(i)))
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func (r *resolution) contribution(ctx context.Context, c models.Contribution, sel ast.SelectionSet, path ast.Path) (object, error) {
	fields := r.fields(sel, "Contribution")
	out := make(object, 0, len(fields))

	for _, f := range fields {
		var v any
		switch f.Name {
		case "__typename":
			v = "Contribution"
		case "id":
			v = c.ID
		case "campaignAddress":
			v = c.CampaignAddress
		case "contributorAddress":
			v = c.ContributorAddress
		case "amount":
			v = c.Amount
		case "currency":
			v = c.Currency
		case "blockNumber":
			v = c.BlockNumber
		case "txHash":
			v = c.TxHash
		case "logIndex":
			v = c.LogIndex
		case "createdAt":
			v = c.CreatedAt.Unix()
		case "campaign":
			fpath := at(path, ast.PathName(f.Alias))
			camp, err := r.server.store.GetCampaign(ctx, c.CampaignAddress)
			if err != nil {
				r.fail(fpath, err)
				break
			}
			if camp == nil {
				break
			}
			if obj, err := r.campaign(ctx, *camp, f.Selections, fpath); err == nil {
				v = obj
			}
		}
		out = append(out, member{f.Alias, v})
	}
	return out, nil
}

// object is a JSON object that keeps the selection order.
type object []member

type member struct {
	key   string
	value any
}

func (o object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.value)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", m.key, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// at returns a copy of path with elem appended.
func at(path ast.Path, elem ast.PathElement) ast.Path {
	out := make(ast.Path, len(path), len(path)+1)
	copy(out, path)
	return append(out, elem)
}

func parseAddress(raw string) (string, error) {
	if !common.IsHexAddress(raw) {
		return "", fmt.Errorf("%w: address %q", errBadArgument, raw)
	}
	return common.HexToAddress(raw).Hex(), nil
}

func addressArg(args map[string]any, name string) (string, error) {
	raw, _ := args[name].(string)
	return parseAddress(raw)
}

func pageArgs(args map[string]any) (store.Page, error) {
	var p store.Page
	var err error
	if p.Limit, err = intArg(args, "limit"); err != nil {
		return p, err
	}
	if p.Offset, err = intArg(args, "offset"); err != nil {
		return p, err
	}
	return p, nil
}

// intArg reads a non-negative Int argument. Literals arrive as int64 and
// variables as json.Number. A missing argument is zero.
func intArg(args map[string]any, name string) (int, error) {
	var n int64
	switch v := args[name].(type) {
	case nil:
		return 0, nil
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be an integer", errBadArgument, name)
		}
		n = int64(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", errBadArgument, name, err)
		}
		n = i
	default:
		return 0, fmt.Errorf("%w: %s has type %T", errBadArgument, name, v)
	}
	if n < 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s out of range", errBadArgument, name)
	}
	return int(n), nil
}
