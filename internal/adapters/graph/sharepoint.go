package graph

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ogurasousui/directory-sync/internal/core/employee"
	"github.com/ogurasousui/directory-sync/internal/core/lookup"
)

// Columns は社員リストの列名です。
type Columns struct {
	Title       string
	Email       string
	Active      string
	Unit        string
	Department  string
	JobTitle    string
	HireDate    string
	BirthDate   string
	SourceID    string
	Manager     string
	ManagerName string
}

func (c Columns) forField(f employee.Field) (string, bool) {
	switch f {
	case employee.FieldDisplayName:
		return c.Title, true
	case employee.FieldEmail:
		return c.Email, true
	case employee.FieldActive:
		return c.Active, true
	case employee.FieldUnitID:
		return c.Unit, true
	case employee.FieldDepartmentID:
		return c.Department, true
	case employee.FieldJobTitle:
		return c.JobTitle, true
	case employee.FieldHireDate:
		return c.HireDate, true
	case employee.FieldBirthDate:
		return c.BirthDate, true
	case employee.FieldSourceID:
		return c.SourceID, true
	case employee.FieldManagerID:
		return c.Manager, true
	case employee.FieldManagerName:
		return c.ManagerName, true
	default:
		return "", false
	}
}

type listItem struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// ListStore は SharePoint リストを社員レコードの同期先として扱います。
type ListStore struct {
	client   *Client
	siteID   string
	listID   string
	columns  Columns
	pageSize int
}

// NewListStore は ListStore を生成します。
func NewListStore(client *Client, siteID, listID string, columns Columns, pageSize int) *ListStore {
	if pageSize <= 0 {
		pageSize = 200
	}
	return &ListStore{client: client, siteID: siteID, listID: listID, columns: columns, pageSize: pageSize}
}

// Verify はサイトとリストが参照可能であることを確認します。
func (s *ListStore) Verify(ctx context.Context) error {
	return verifyList(ctx, s.client, s.siteID, s.listID)
}

// ListAll はリストの全アイテムを返します。
func (s *ListStore) ListAll(ctx context.Context) ([]*employee.Employee, error) {
	items, err := listItems(ctx, s.client, s.siteID, s.listID, s.pageSize)
	if err != nil {
		return nil, err
	}

	out := make([]*employee.Employee, 0, len(items))
	for _, item := range items {
		out = append(out, s.toEmployee(item))
	}
	return out, nil
}

// Create はアイテムを作成し、採番されたアイテム ID を返します。
func (s *ListStore) Create(ctx context.Context, e *employee.Employee) (string, error) {
	fields := map[string]any{
		s.columns.Title:       e.DisplayName,
		s.columns.Email:       e.Email,
		s.columns.Active:      e.Active,
		s.columns.JobTitle:    e.JobTitle,
		s.columns.SourceID:    e.SourceID,
		s.columns.ManagerName: e.ManagerName,
	}
	setOptional := func(col string, v any) {
		if v != nil {
			fields[col] = v
		}
	}
	setOptional(s.columns.Unit, lookupValue(e.UnitID))
	setOptional(s.columns.Department, lookupValue(e.DepartmentID))
	setOptional(s.columns.HireDate, dateValue(e.HireDate))
	setOptional(s.columns.BirthDate, dateValue(e.BirthDate))
	if e.ManagerID != nil {
		id, err := itemID(*e.ManagerID)
		if err != nil {
			return "", err
		}
		fields[s.columns.Manager] = id
	}

	var created listItem
	if err := s.client.Post(ctx, s.itemsPath(), map[string]any{"fields": fields}, &created); err != nil {
		return "", fmt.Errorf("graph: create list item: %w", err)
	}
	return created.ID, nil
}

// Update は changes に含まれる列のみを更新します。
func (s *ListStore) Update(ctx context.Context, id string, changes employee.ChangeSet) error {
	if changes.Empty() {
		return nil
	}

	fields := make(map[string]any, len(changes))
	for _, ch := range changes {
		col, ok := s.columns.forField(ch.Field)
		if !ok {
			return fmt.Errorf("%w: %s", employee.ErrUnknownField, ch.Field)
		}
		v, err := fieldValue(ch)
		if err != nil {
			return err
		}
		fields[col] = v
	}

	path := s.itemsPath() + "/" + url.PathEscape(id) + "/fields"
	if err := s.client.Patch(ctx, path, fields, nil); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", employee.ErrEmployeeNotFound, id)
		}
		return fmt.Errorf("graph: update list item %s: %w", id, err)
	}
	return nil
}

// Count はリストのアイテム数を返します。
func (s *ListStore) Count(ctx context.Context) (int, error) {
	items, err := listItems(ctx, s.client, s.siteID, s.listID, s.pageSize)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (s *ListStore) itemsPath() string {
	return itemsPath(s.siteID, s.listID)
}

func (s *ListStore) toEmployee(item listItem) *employee.Employee {
	f := item.Fields
	e := &employee.Employee{
		ID:           item.ID,
		DisplayName:  fieldString(f, s.columns.Title),
		Email:        fieldString(f, s.columns.Email),
		Active:       fieldBool(f, s.columns.Active),
		UnitID:       fieldInt64(f, s.columns.Unit),
		DepartmentID: fieldInt64(f, s.columns.Department),
		JobTitle:     fieldString(f, s.columns.JobTitle),
		HireDate:     fieldTime(f, s.columns.HireDate),
		BirthDate:    fieldTime(f, s.columns.BirthDate),
		SourceID:     fieldString(f, s.columns.SourceID),
		ManagerName:  fieldString(f, s.columns.ManagerName),
	}
	if mgr := fieldInt64(f, s.columns.Manager); mgr != nil {
		id := strconv.FormatInt(*mgr, 10)
		e.ManagerID = &id
	}
	return e
}

// LookupLists はカテゴリ種別ごとの参照先リストを lookup.Store として扱います。ラベルは Title 列です。
type LookupLists struct {
	client   *Client
	siteID   string
	lists    map[lookup.Dimension]string
	pageSize int
}

// NewLookupLists は LookupLists を生成します。
func NewLookupLists(client *Client, siteID string, lists map[lookup.Dimension]string, pageSize int) *LookupLists {
	if pageSize <= 0 {
		pageSize = 200
	}
	copied := make(map[lookup.Dimension]string, len(lists))
	for dim, id := range lists {
		copied[dim] = id
	}
	return &LookupLists{client: client, siteID: siteID, lists: copied, pageSize: pageSize}
}

// Verify は全ての参照先リストが参照可能であることを確認します。
func (l *LookupLists) Verify(ctx context.Context) error {
	for dim, listID := range l.lists {
		if err := verifyList(ctx, l.client, l.siteID, listID); err != nil {
			return fmt.Errorf("graph: lookup list %s: %w", dim, err)
		}
	}
	return nil
}

// ListAll は指定された種別のエントリをすべて返します。
func (l *LookupLists) ListAll(ctx context.Context, dim lookup.Dimension) ([]lookup.Entry, error) {
	listID, err := l.list(dim)
	if err != nil {
		return nil, err
	}
	items, err := listItems(ctx, l.client, l.siteID, listID, l.pageSize)
	if err != nil {
		return nil, err
	}

	entries := make([]lookup.Entry, 0, len(items))
	for _, item := range items {
		id, err := itemID(item.ID)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Str("dimension", string(dim)).Str("item_id", item.ID).Msg("graph: lookup item ignored")
			continue
		}
		entries = append(entries, lookup.Entry{Dimension: dim, Label: fieldString(item.Fields, "Title"), ID: id})
	}
	return entries, nil
}

// Create はエントリを作成し ID を返します。
func (l *LookupLists) Create(ctx context.Context, dim lookup.Dimension, label string) (int64, error) {
	listID, err := l.list(dim)
	if err != nil {
		return 0, err
	}

	var created listItem
	body := map[string]any{"fields": map[string]any{"Title": label}}
	if err := l.client.Post(ctx, itemsPath(l.siteID, listID), body, &created); err != nil {
		return 0, fmt.Errorf("graph: create lookup item: %w", err)
	}
	return itemID(created.ID)
}

func (l *LookupLists) list(dim lookup.Dimension) (string, error) {
	listID, ok := l.lists[dim]
	if !ok || listID == "" {
		return "", fmt.Errorf("%w: no list configured for %s", ErrListNotFound, dim)
	}
	return listID, nil
}

func itemsPath(siteID, listID string) string {
	return "/sites/" + url.PathEscape(siteID) + "/lists/" + url.PathEscape(listID) + "/items"
}

func listItems(ctx context.Context, c *Client, siteID, listID string, pageSize int) ([]listItem, error) {
	query := url.Values{}
	query.Set("$expand", "fields")
	query.Set("$top", strconv.Itoa(pageSize))

	items, err := listAll[listItem](ctx, c, itemsPath(siteID, listID), query)
	if err != nil {
		return nil, fmt.Errorf("graph: list items of %s: %w", listID, err)
	}
	return items, nil
}

func verifyList(ctx context.Context, c *Client, siteID, listID string) error {
	var site struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	}
	if err := c.Get(ctx, "/sites/"+url.PathEscape(siteID), nil, &site); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrSiteNotFound, siteID)
		}
		return err
	}

	var list struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	}
	if err := c.Get(ctx, "/sites/"+url.PathEscape(siteID)+"/lists/"+url.PathEscape(listID), nil, &list); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrListNotFound, listID)
		}
		return err
	}

	zerolog.Ctx(ctx).Debug().Str("site", site.DisplayName).Str("list", list.DisplayName).Msg("graph: list verified")
	return nil
}

func fieldValue(ch employee.Change) (any, error) {
	switch v := ch.Value.(type) {
	case string, bool:
		return v, nil
	case *int64:
		return lookupValue(v), nil
	case *time.Time:
		return dateValue(v), nil
	case *string:
		if v == nil {
			return nil, nil
		}
		return itemID(*v)
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %s has %T", employee.ErrInvalidFieldValue, ch.Field, ch.Value)
	}
}

func lookupValue(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func dateValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func itemID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidItemID, raw)
	}
	return id, nil
}

func fieldString(f map[string]any, key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func fieldBool(f map[string]any, key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case float64:
		return v != 0
	default:
		return false
	}
}

func fieldInt64(f map[string]any, key string) *int64 {
	var id int64
	switch v := f[key].(type) {
	case float64:
		id = int64(v)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil
		}
		id = parsed
	default:
		return nil
	}
	return &id
}

func fieldTime(f map[string]any, key string) *time.Time {
	s, ok := f[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
