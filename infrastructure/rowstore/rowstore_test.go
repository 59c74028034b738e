package rowstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.PutRow("tasks", "t2", map[string]interface{}{"Status": "Open"})
	store.PutRow("tasks", "t1", map[string]interface{}{"Status": "Done"})

	rows, err := store.ListRows(ctx, "tasks")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "t1", rows[0].ID)

	require.NoError(t, store.UpdateRow(ctx, "tasks", "t2", map[string]interface{}{"Status": "Done"}))
	row, err := store.GetRow(ctx, "tasks", "t2")
	require.NoError(t, err)
	assert.Equal(t, "Done", row["Status"])

	_, err = store.GetRow(ctx, "tasks", "missing")
	assert.ErrorIs(t, err, ErrRowNotFound)
	assert.ErrorIs(t, store.UpdateRow(ctx, "orders", "o1", nil), ErrRowNotFound)
}

func TestHTTPStore(t *testing.T) {
	rows := map[string]map[string]interface{}{
		"r1": {"Status": "Open"},
	}
	router := mux.NewRouter()
	router.HandleFunc("/tables/broken/rows", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	router.HandleFunc("/tables/{table}/rows", func(w http.ResponseWriter, r *http.Request) {
		list := make([]rowPayload, 0, len(rows))
		for id, fields := range rows {
			list = append(list, rowPayload{ID: id, Fields: fields})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"rows": list})
	}).Methods(http.MethodGet)
	router.HandleFunc("/tables/{table}/rows/{row}", func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["row"]
		fields, ok := rows[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodPatch {
			assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
			var body rowPayload
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			for key, value := range body.Fields {
				fields[key] = value
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(rowPayload{ID: id, Fields: fields})
	}).Methods(http.MethodGet, http.MethodPatch)

	server := httptest.NewServer(router)
	defer server.Close()

	ctx := context.Background()
	store := NewHTTPStore(HTTPConfig{BaseURL: server.URL + "/", Token: "secret"})

	list, err := store.ListRows(ctx, "tasks")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].ID)

	require.NoError(t, store.UpdateRow(ctx, "tasks", "r1", map[string]interface{}{"Status": "Done"}))
	row, err := store.GetRow(ctx, "tasks", "r1")
	require.NoError(t, err)
	assert.Equal(t, "Done", row["Status"])

	_, err = store.GetRow(ctx, "tasks", "r9")
	assert.ErrorIs(t, err, ErrRowNotFound)

	_, err = store.ListRows(ctx, "broken")
	assert.ErrorIs(t, err, ErrUnavailable)
}
