package graph

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ogurasousui/directory-sync/internal/core/dates"
	"github.com/ogurasousui/directory-sync/internal/core/identity"
	"github.com/ogurasousui/directory-sync/internal/core/lookup"
)

const userSelect = "id,displayName,userPrincipalName,mail,accountEnabled,officeLocation,department,jobTitle,employeeHireDate,onPremisesExtensionAttributes"

const managerExpand = "manager($select=id,displayName,userPrincipalName)"

type graphUser struct {
	ID                string              `json:"id"`
	DisplayName       string              `json:"displayName"`
	UserPrincipalName string              `json:"userPrincipalName"`
	Mail              string              `json:"mail"`
	AccountEnabled    *bool               `json:"accountEnabled"`
	OfficeLocation    string              `json:"officeLocation"`
	Department        string              `json:"department"`
	JobTitle          string              `json:"jobTitle"`
	EmployeeHireDate  string              `json:"employeeHireDate"`
	Extensions        *extensionAttribute `json:"onPremisesExtensionAttributes"`
	Manager           *graphManager       `json:"manager"`
}

type extensionAttribute struct {
	ExtensionAttribute2  string `json:"extensionAttribute2"`
	ExtensionAttribute15 string `json:"extensionAttribute15"`
}

type graphManager struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// Directory は Graph の /users をソースディレクトリとして提供します。
type Directory struct {
	client   *Client
	pageSize int
}

// NewDirectory は Directory を生成します。pageSize の上限は 999 です。
func NewDirectory(client *Client, pageSize int) *Directory {
	if pageSize <= 0 || pageSize > 999 {
		pageSize = 999
	}
	return &Directory{client: client, pageSize: pageSize}
}

// ListAll は全ユーザーを取得し identity.Record に変換して返します。
func (d *Directory) ListAll(ctx context.Context) ([]identity.Record, error) {
	query := url.Values{}
	query.Set("$select", userSelect)
	query.Set("$expand", managerExpand)
	query.Set("$top", strconv.Itoa(d.pageSize))

	users, err := listAll[graphUser](ctx, d.client, "/users", query)
	if err != nil {
		return nil, fmt.Errorf("graph: list users: %w", err)
	}

	records := make([]identity.Record, 0, len(users))
	for _, u := range users {
		records = append(records, toRecord(u))
	}
	zerolog.Ctx(ctx).Debug().Int("count", len(records)).Msg("graph: users loaded")
	return records, nil
}

func toRecord(u graphUser) identity.Record {
	rec := identity.Record{
		ID:            u.ID,
		DisplayName:   u.DisplayName,
		PrincipalName: u.UserPrincipalName,
		Mail:          u.Mail,
		Active:        u.AccountEnabled != nil && *u.AccountEnabled,
		JobTitle:      u.JobTitle,
		Categories: map[lookup.Dimension]string{
			lookup.DimensionUnit:       u.OfficeLocation,
			lookup.DimensionDepartment: u.Department,
		},
		HireDate: dates.RawDate{Value: u.EmployeeHireDate, Encoding: dates.EncodingISO8601},
	}
	if u.Extensions != nil {
		rec.BirthDate = dates.RawDate{Value: u.Extensions.ExtensionAttribute2, Encoding: dates.EncodingCompact}
		rec.LegacyHireDate = dates.RawDate{Value: u.Extensions.ExtensionAttribute15, Encoding: dates.EncodingLDAP}
	}
	if u.Manager != nil {
		rec.Manager = &identity.ManagerRef{
			ID:            u.Manager.ID,
			DisplayName:   u.Manager.DisplayName,
			PrincipalName: u.Manager.UserPrincipalName,
		}
	}
	return rec
}
