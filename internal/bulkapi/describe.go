package bulkapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"resty.dev/v3"

	"github.com/vk/orgmigrate/internal/entity"
)

// Describe is the part of an sobject describe result the tool keeps.
type Describe struct {
	Name   string         `json:"name"`
	Fields []entity.Field `json:"fields"`
}

// DescribeSObject returns the field metadata of the named sobject.
func (c *Client) DescribeSObject(ctx context.Context, name string) (*Describe, error) {
	var d Describe
	if err := c.callJSON(ctx, http.MethodGet, "/sobjects/"+name+"/describe", nil, &d); err != nil {
		return nil, err
	}
	if d.Name == "" {
		d.Name = name
	}
	return &d, nil
}

// Counts is the result of an aggregate count query.
type Counts struct {
	// Total is the number of records of the sobject.
	Total int64
	// Populated holds, per requested field, the number of records with a
	// non-null value.
	Populated []int64
}

// CountPopulated runs SELECT COUNT(Id), COUNT(f1), ... against the sobject.
func (c *Client) CountPopulated(ctx context.Context, object string, fields []string) (*Counts, error) {
	exprs := make([]string, 0, len(fields)+1)
	exprs = append(exprs, "COUNT(Id)")
	for _, f := range fields {
		exprs = append(exprs, "COUNT("+f+")")
	}
	soql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), object)

	resp, err := c.call(ctx, http.MethodGet, "/query", func(r *resty.Request) {
		r.SetQueryParam("q", soql)
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Records []map[string]json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal([]byte(resp.String()), &result); err != nil {
		return nil, fmt.Errorf("decode aggregate result: %w", err)
	}
	if len(result.Records) == 0 {
		return nil, fmt.Errorf("aggregate query on %s returned no records", object)
	}

	record := result.Records[0]
	values := make([]int64, len(exprs))
	for i := range exprs {
		key := fmt.Sprintf("expr%d", i)
		v, err := decodeCount(record[key])
		if err != nil {
			return nil, fmt.Errorf("aggregate %s on %s: %w", key, object, err)
		}
		values[i] = v
	}
	return &Counts{Total: values[0], Populated: values[1:]}, nil
}

func decodeCount(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return 0, err
	}
	return n.Int64()
}
