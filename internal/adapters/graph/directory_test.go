package graph

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogurasousui/directory-sync/internal/core/dates"
	"github.com/ogurasousui/directory-sync/internal/core/lookup"
)

func TestDirectoryListAll(t *testing.T) {
	t.Parallel()

	var srvURL string
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users", r.URL.Path)
		if r.URL.Query().Get("page") == "2" {
			writeJSON(t, w, http.StatusOK, map[string]any{"value": []map[string]any{{
				"id":                "u2",
				"displayName":       "Bob",
				"userPrincipalName": "bob@example.com",
				"accountEnabled":    false,
				"manager": map[string]string{
					"id":                "u1",
					"displayName":       "Alice",
					"userPrincipalName": "alice@example.com",
				},
			}}})
			return
		}

		q := r.URL.Query()
		assert.True(t, strings.Contains(q.Get("$select"), "onPremisesExtensionAttributes"))
		assert.Equal(t, managerExpand, q.Get("$expand"))
		assert.Equal(t, "999", q.Get("$top"))
		writeJSON(t, w, http.StatusOK, map[string]any{
			"value": []map[string]any{{
				"id":                "u1",
				"displayName":       "Alice",
				"userPrincipalName": "alice@example.com",
				"mail":              "alice@corp.example.com",
				"accountEnabled":    true,
				"officeLocation":    "Matriz",
				"department":        "Financeiro",
				"jobTitle":          "Director",
				"employeeHireDate":  "2019-05-02T00:00:00Z",
				"onPremisesExtensionAttributes": map[string]any{
					"extensionAttribute2":  "21071990",
					"extensionAttribute15": "20190502000000.0Z",
				},
			}},
			"@odata.nextLink": srvURL + "/users?page=2",
		})
	}))
	srvURL = srv.URL

	records, err := NewDirectory(client, 0).ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	alice := records[0]
	assert.Equal(t, "u1", alice.ID)
	assert.Equal(t, "alice@example.com", alice.PrincipalName)
	assert.True(t, alice.Active)
	assert.Equal(t, "Matriz", alice.Category(lookup.DimensionUnit))
	assert.Equal(t, "Financeiro", alice.Category(lookup.DimensionDepartment))
	assert.Equal(t, dates.RawDate{Value: "21071990", Encoding: dates.EncodingCompact}, alice.BirthDate)
	assert.Equal(t, dates.EncodingLDAP, alice.LegacyHireDate.Encoding)
	assert.Equal(t, dates.EncodingISO8601, alice.HireDate.Encoding)
	assert.Nil(t, alice.Manager)

	bob := records[1]
	assert.False(t, bob.Active)
	assert.True(t, bob.BirthDate.IsZero())
	require.NotNil(t, bob.Manager)
	assert.Equal(t, "u1", bob.Manager.ID)
	assert.Equal(t, "Alice", bob.Manager.DisplayName)
}

func TestDirectoryListAllError(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusForbidden, map[string]any{"error": map[string]string{"code": "Authorization_RequestDenied", "message": "denied"}})
	}))

	_, err := NewDirectory(client, 100).ListAll(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Authorization_RequestDenied", apiErr.Code)
}
