package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// badRequest marks a client input fault.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

// fail maps err to a response: input faults to 400, anything else to 500.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var br badRequest
	if errors.As(err, &br) {
		writeError(w, http.StatusBadRequest, br.msg)
		return
	}
	zap.L().Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", requestID(r)),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// Paging is the paging block of list responses. PageSize 0 asks for every row.
type Paging struct {
	TotalCount int64 `json:"total_count"`
	PageNum    int   `json:"page_num"`
	PageSize   int   `json:"page_size"`
}

func parsePaging(r *http.Request) (Paging, error) {
	p := Paging{PageNum: 1, PageSize: 10}
	var err error
	if p.PageNum, err = intParam(r, "page_num", 1); err != nil {
		return p, err
	}
	if p.PageSize, err = intParam(r, "page_size", 10); err != nil {
		return p, err
	}
	if p.PageNum < 1 || p.PageSize < 0 {
		return p, badRequest{"page_num must be >= 1 and page_size >= 0"}
	}
	return p, nil
}

func (p Paging) limitOffset() (limit, offset int, ok bool) {
	if p.PageSize == 0 {
		return 0, 0, false
	}
	return p.PageSize, (p.PageNum - 1) * p.PageSize, true
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest{name + " must be an integer"}
	}
	return n, nil
}

func optionalInt(r *http.Request, name string) (*int64, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, badRequest{name + " must be an integer"}
	}
	return &n, nil
}

// listParam accepts both repeated keys and comma-separated values.
func listParam(r *http.Request, name string) []string {
	var out []string
	for _, v := range r.URL.Query()[name] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func intListParam(r *http.Request, name string) ([]int64, error) {
	vals := listParam(r, name)
	out := make([]int64, 0, len(vals))
	for _, v := range vals {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, badRequest{name + " must be a list of integers"}
		}
		out = append(out, n)
	}
	return out, nil
}

// args accumulates positional query arguments.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}
