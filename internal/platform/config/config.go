package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	TargetPostgres   = "postgres"
	TargetSharePoint = "sharepoint"
)

// Config はアプリケーション全体の設定を表現します。
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Source   SourceConfig   `yaml:"source"`
	Target   TargetConfig   `yaml:"target"`
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// LogConfig はログ出力に関する設定です。
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig は serve モードで公開するエンドポイントの設定です。
type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// SourceConfig はソースディレクトリ (Microsoft Graph) への接続設定です。
type SourceConfig struct {
	TenantID          string        `yaml:"tenant_id"`
	ClientID          string        `yaml:"client_id"`
	ClientSecret      string        `yaml:"client_secret"`
	PageSize          int           `yaml:"page_size"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxRetries        int           `yaml:"max_retries"`
	Timeout           time.Duration `yaml:"-"`
	TimeoutRaw        string        `yaml:"timeout"`
}

// TargetConfig は同期先ストアの設定です。
type TargetConfig struct {
	Kind       string           `yaml:"kind"`
	PageSize   int              `yaml:"page_size"`
	SharePoint SharePointConfig `yaml:"sharepoint"`
}

// SharePointConfig は SharePoint リストを同期先とする場合の設定です。
type SharePointConfig struct {
	SiteID      string            `yaml:"site_id"`
	ListID      string            `yaml:"list_id"`
	LookupLists LookupListsConfig `yaml:"lookup_lists"`
	Columns     ColumnsConfig     `yaml:"columns"`
}

// LookupListsConfig はカテゴリ種別ごとの参照先リスト ID です。
type LookupListsConfig struct {
	Unit       string `yaml:"unit"`
	Department string `yaml:"department"`
}

// ColumnsConfig は社員リストの列名です。
type ColumnsConfig struct {
	Title       string `yaml:"title"`
	Email       string `yaml:"email"`
	Active      string `yaml:"active"`
	Unit        string `yaml:"unit"`
	Department  string `yaml:"department"`
	JobTitle    string `yaml:"job_title"`
	HireDate    string `yaml:"hire_date"`
	BirthDate   string `yaml:"birth_date"`
	SourceID    string `yaml:"source_id"`
	Manager     string `yaml:"manager"`
	ManagerName string `yaml:"manager_name"`
}

// DatabaseConfig は PostgreSQL 接続に関する設定です。
type DatabaseConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	User               string        `yaml:"user"`
	Password           string        `yaml:"password"`
	Name               string        `yaml:"name"`
	SSLMode            string        `yaml:"ssl_mode"`
	MaxOpenConns       int           `yaml:"max_open_conns"`
	MaxIdleConns       int           `yaml:"max_idle_conns"`
	ConnMaxLifetime    time.Duration `yaml:"-"`
	ConnMaxIdleTime    time.Duration `yaml:"-"`
	ConnMaxLifetimeRaw string        `yaml:"conn_max_lifetime"`
	ConnMaxIdleTimeRaw string        `yaml:"conn_max_idle_time"`
}

// SyncConfig は同期処理の振る舞いに関する設定です。
type SyncConfig struct {
	DateOffset    time.Duration  `yaml:"-"`
	DateOffsetRaw string         `yaml:"date_offset"`
	DateLocation  string         `yaml:"date_location"`
	Concurrency   int            `yaml:"concurrency"`
	InvalidDates  string         `yaml:"invalid_dates"`
	DryRun        bool           `yaml:"dry_run"`
	Lookups       LookupPolicies `yaml:"lookups"`
}

// LookupPolicies はカテゴリ種別ごとのラベル同一性判定の方針です。
type LookupPolicies struct {
	Unit       string `yaml:"unit"`
	Department string `yaml:"department"`
}

// ScheduleConfig は serve モードの実行間隔です。Cron が設定されている場合は Interval より優先します。
type ScheduleConfig struct {
	Interval    time.Duration `yaml:"-"`
	IntervalRaw string        `yaml:"interval"`
	Cron        string        `yaml:"cron"`
	RunOnStart  *bool         `yaml:"run_on_start"`
}

// DefaultColumns は社員リストの既定の列名です。
func DefaultColumns() ColumnsConfig {
	return ColumnsConfig{
		Title:       "Title",
		Email:       "ExternalEmail",
		Active:      "Ativo",
		Unit:        "UnidadeLookupId",
		Department:  "DepartamentoLookupId",
		JobTitle:    "Cargo",
		HireDate:    "DataAdmissao",
		BirthDate:   "DataAniversario",
		SourceID:    "AzureADId",
		Manager:     "GestorLookupId",
		ManagerName: "Gerencia",
	}
}

// LoadEnvFiles は .env ファイルを環境変数に読み込みます。存在しないファイルは無視します。
func LoadEnvFiles(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env", ".env.local"}
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

// Load は指定されたパスから設定ファイルを読み込み、環境変数で上書きします。
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookupEnv func(string) (string, bool)) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	cfg.applyEnv(lookupEnv)

	if err := cfg.validateAndNormalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyEnv(lookupEnv func(string) (string, bool)) {
	overrides := map[string]*string{
		"TENANT_ID":         &c.Source.TenantID,
		"CLIENT_ID":         &c.Source.ClientID,
		"CLIENT_SECRET":     &c.Source.ClientSecret,
		"SITE_ID":           &c.Target.SharePoint.SiteID,
		"LIST_ID":           &c.Target.SharePoint.ListID,
		"DATABASE_PASSWORD": &c.Database.Password,
	}
	for key, dst := range overrides {
		if v, ok := lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
}

func (c *Config) validateAndNormalize() error {
	if err := c.Log.validateAndNormalize(); err != nil {
		return err
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":50051"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9090"
	}
	if err := c.Source.validateAndNormalize(); err != nil {
		return err
	}
	if err := c.Target.validateAndNormalize(); err != nil {
		return err
	}
	if c.Target.Kind == TargetPostgres {
		db := &c.Database
		if err := db.validateAndNormalize(); err != nil {
			return err
		}
	}
	if err := c.Sync.validateAndNormalize(); err != nil {
		return err
	}

	interval, err := parseDurationAllowEmpty(c.Schedule.IntervalRaw)
	if err != nil {
		return fmt.Errorf("config: schedule.interval: %w", err)
	}
	if interval == 0 {
		interval = time.Hour
	}
	c.Schedule.Interval = interval
	if c.Schedule.RunOnStart == nil {
		runOnStart := true
		c.Schedule.RunOnStart = &runOnStart
	}

	return nil
}

func (l *LogConfig) validateAndNormalize() error {
	if l.Level == "" {
		l.Level = "info"
	}
	switch l.Format {
	case "":
		l.Format = "auto"
	case "auto", "json", "console":
	default:
		return fmt.Errorf("config: log.format must be one of auto, json, console")
	}
	return nil
}

func (s *SourceConfig) validateAndNormalize() error {
	if s.TenantID == "" {
		return fmt.Errorf("config: source.tenant_id must be set")
	}
	if s.ClientID == "" {
		return fmt.Errorf("config: source.client_id must be set")
	}
	if s.ClientSecret == "" {
		return fmt.Errorf("config: source.client_secret must be set")
	}
	if s.PageSize <= 0 || s.PageSize > 999 {
		s.PageSize = 999
	}
	if s.RequestsPerSecond <= 0 {
		s.RequestsPerSecond = 10
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("config: source.max_retries must not be negative")
	}
	if s.MaxRetries == 0 {
		s.MaxRetries = 4
	}

	timeout, err := parseDurationAllowEmpty(s.TimeoutRaw)
	if err != nil {
		return fmt.Errorf("config: source.timeout: %w", err)
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	s.Timeout = timeout
	return nil
}

func (t *TargetConfig) validateAndNormalize() error {
	if t.Kind == "" {
		t.Kind = TargetPostgres
	}
	if t.PageSize <= 0 {
		t.PageSize = 200
	}

	switch t.Kind {
	case TargetPostgres:
		return nil
	case TargetSharePoint:
	default:
		return fmt.Errorf("config: target.kind must be %s or %s", TargetPostgres, TargetSharePoint)
	}

	sp := &t.SharePoint
	if sp.SiteID == "" {
		return fmt.Errorf("config: target.sharepoint.site_id must be set")
	}
	if sp.ListID == "" {
		return fmt.Errorf("config: target.sharepoint.list_id must be set")
	}
	if sp.LookupLists.Unit == "" {
		return fmt.Errorf("config: target.sharepoint.lookup_lists.unit must be set")
	}
	if sp.LookupLists.Department == "" {
		return fmt.Errorf("config: target.sharepoint.lookup_lists.department must be set")
	}
	sp.Columns = sp.Columns.withDefaults()
	return nil
}

func (c ColumnsConfig) withDefaults() ColumnsConfig {
	d := DefaultColumns()
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&c.Title, d.Title)
	fill(&c.Email, d.Email)
	fill(&c.Active, d.Active)
	fill(&c.Unit, d.Unit)
	fill(&c.Department, d.Department)
	fill(&c.JobTitle, d.JobTitle)
	fill(&c.HireDate, d.HireDate)
	fill(&c.BirthDate, d.BirthDate)
	fill(&c.SourceID, d.SourceID)
	fill(&c.Manager, d.Manager)
	fill(&c.ManagerName, d.ManagerName)
	return c
}

func (d *DatabaseConfig) validateAndNormalize() error {
	if d.Host == "" {
		return fmt.Errorf("config: database.host must be set")
	}
	if d.Port == 0 {
		return fmt.Errorf("config: database.port must be set")
	}
	if d.User == "" {
		return fmt.Errorf("config: database.user must be set")
	}
	if d.Password == "" {
		return fmt.Errorf("config: database.password must be set")
	}
	if d.Name == "" {
		return fmt.Errorf("config: database.name must be set")
	}
	if d.SSLMode == "" {
		d.SSLMode = "disable"
	}

	lifetime, err := parseDurationAllowEmpty(d.ConnMaxLifetimeRaw)
	if err != nil {
		return fmt.Errorf("config: database.conn_max_lifetime: %w", err)
	}
	d.ConnMaxLifetime = lifetime

	idleTime, err := parseDurationAllowEmpty(d.ConnMaxIdleTimeRaw)
	if err != nil {
		return fmt.Errorf("config: database.conn_max_idle_time: %w", err)
	}
	d.ConnMaxIdleTime = idleTime

	return nil
}

func (s *SyncConfig) validateAndNormalize() error {
	if s.DateOffsetRaw == "" {
		s.DateOffset = 3 * time.Hour
	} else {
		offset, err := time.ParseDuration(s.DateOffsetRaw)
		if err != nil {
			return fmt.Errorf("config: sync.date_offset: %w", err)
		}
		s.DateOffset = offset
	}

	if s.DateLocation == "" {
		s.DateLocation = "UTC"
	}
	if _, err := time.LoadLocation(s.DateLocation); err != nil {
		return fmt.Errorf("config: sync.date_location: %w", err)
	}

	if s.Concurrency <= 0 {
		s.Concurrency = 1
	}

	switch s.InvalidDates {
	case "":
		s.InvalidDates = "warn"
	case "warn", "skip":
	default:
		return fmt.Errorf("config: sync.invalid_dates must be warn or skip")
	}

	for name, p := range map[string]*string{"unit": &s.Lookups.Unit, "department": &s.Lookups.Department} {
		switch *p {
		case "":
			*p = "exact"
		case "exact", "fold":
		default:
			return fmt.Errorf("config: sync.lookups.%s must be exact or fold", name)
		}
	}

	return nil
}

// Location は sync.date_location を解決します。
func (s SyncConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.DateLocation)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseDurationAllowEmpty(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	return d, nil
}

// DSN は pgx 用の接続文字列を返します。
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + strconv.Itoa(d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}
