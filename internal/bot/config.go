package bot

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/EgorLis/packbot/internal/bancho"
	"github.com/EgorLis/packbot/internal/lobby"
	"github.com/EgorLis/packbot/internal/mappool"
	"github.com/EgorLis/packbot/internal/matchmaker"
	"github.com/EgorLis/packbot/internal/osu"
	"github.com/EgorLis/packbot/internal/osuapi"
	"github.com/EgorLis/packbot/internal/results"
)

// Duration в конфиге — строка "2s"/"5m" или число секунд.
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("bad duration %q: %w", s, err)
		}
		d.Duration = v
		return nil
	}
	var sec float64
	if err := json.Unmarshal(b, &sec); err != nil {
		return fmt.Errorf("bad duration %s", b)
	}
	d.Duration = time.Duration(sec * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

type BanchoConf struct {
	Server       string   `json:"server"`
	Username     string   `json:"username"`
	Password     string   `json:"password"`
	SendInterval Duration `json:"send_interval"`
}

type APIConf struct {
	Server string `json:"server"`
	Key    string `json:"key"`
}

type ResultsConf struct {
	URL  string `json:"url"`
	Auth string `json:"auth"`
}

type MatchmakerConf struct {
	SearchInterval Duration `json:"search_interval"`
	RangeIncrement float64  `json:"range_increment"`
	// DeviationDivisor > 0 включает рост диапазона sqrt(range² + rd²/div).
	DeviationDivisor float64  `json:"deviation_divisor"`
	ReadyTimeout     Duration `json:"ready_timeout"`
}

type DuelConf struct {
	BestOf         int      `json:"best_of"`
	Bans           int      `json:"bans"`
	AbandonSeconds int      `json:"abandon_seconds"`
	JoinTimeout    Duration `json:"join_timeout"`
	CloseDelay     Duration `json:"close_delay"`
}

type SongRushConf struct {
	StepSize       float64  `json:"step_size"`
	AbandonSeconds int      `json:"abandon_seconds"`
	CloseDelay     Duration `json:"close_delay"`
}

type AutoConf struct {
	IdleTimeout Duration `json:"idle_timeout"`
	CloseDelay  Duration `json:"close_delay"`
}

type QualifierConf struct {
	EmptyCloseDelay Duration `json:"empty_close_delay"`
	CloseDelay      Duration `json:"close_delay"`
}

// Config — основной конфиг (JSON с комментариями).
type Config struct {
	Bancho   BanchoConf  `json:"bancho"`
	OsuAPI   APIConf     `json:"osu_api"`
	Results  ResultsConf `json:"results"`
	Database string      `json:"database"`
	// Pools — YAML с маппулами дуэлей.
	Pools  string   `json:"pools"`
	Admins []string `json:"admins"`

	Matchmaker MatchmakerConf `json:"matchmaker"`
	Duel       DuelConf       `json:"duel"`
	SongRush   SongRushConf   `json:"song_rush"`
	Auto       AutoConf       `json:"auto"`
	Qualifier  QualifierConf  `json:"qualifier"`
}

func defaultConfig() Config {
	return Config{
		Bancho:   BanchoConf{Server: "irc.ppy.sh:6667", SendInterval: Duration{500 * time.Millisecond}},
		Database: "packbot.db",
		Pools:    "conf/pools.yaml",
		Matchmaker: MatchmakerConf{
			SearchInterval:   Duration{matchmaker.DefaultSearchInterval},
			DeviationDivisor: 5,
			ReadyTimeout:     Duration{matchmaker.DefaultReadyTimeout},
		},
	}
}

// LoadConfig читает JSONC поверх значений по умолчанию. Нет файла —
// остаются значения по умолчанию.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := json.Unmarshal(jsonc.ToJSON(b), &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv перекрывает секреты переменными окружения.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("OSU_IRC_USERNAME", &c.Bancho.Username)
	set("OSU_IRC_PASSWORD", &c.Bancho.Password)
	set("OSU_API_KEY", &c.OsuAPI.Key)
	set("INTERNAL_URL", &c.Results.URL)
	set("MATCH_SUBMIT_AUTH", &c.Results.Auth)
}

func (c Config) validate() error {
	if c.Bancho.Username == "" || c.Bancho.Password == "" {
		return fmt.Errorf("config: bancho username and password are required (OSU_IRC_USERNAME, OSU_IRC_PASSWORD)")
	}
	if c.Database == "" {
		return fmt.Errorf("config: database path is required")
	}
	return nil
}

func (c Config) banchoConfig() bancho.Config {
	return bancho.Config{
		Server:       c.Bancho.Server,
		Username:     c.Bancho.Username,
		Password:     c.Bancho.Password,
		SendInterval: c.Bancho.SendInterval.Duration,
	}
}

func (c Config) apiConfig() osuapi.Config {
	return osuapi.Config{Server: c.OsuAPI.Server, Key: c.OsuAPI.Key}
}

func (c Config) resultsConfig() results.Config {
	return results.Config{BaseURL: c.Results.URL, Auth: c.Results.Auth}
}

func (c Config) matchmakerOptions() matchmaker.Options {
	opts := matchmaker.Options{
		SearchInterval: c.Matchmaker.SearchInterval.Duration,
		RangeIncrement: c.Matchmaker.RangeIncrement,
		ReadyTimeout:   c.Matchmaker.ReadyTimeout.Duration,
	}
	if c.Matchmaker.DeviationDivisor > 0 {
		opts.RangeFunc = matchmaker.DeviationGrowth(c.Matchmaker.DeviationDivisor)
	}
	return opts
}

func (c Config) managerConfig(pools mappool.Pools) lobby.ManagerConfig {
	return lobby.ManagerConfig{
		Duel: lobby.DuelConfig{
			BestOf:         c.Duel.BestOf,
			Bans:           c.Duel.Bans,
			AbandonSeconds: c.Duel.AbandonSeconds,
			JoinTimeout:    c.Duel.JoinTimeout.Duration,
			CloseDelay:     c.Duel.CloseDelay.Duration,
		},
		SongRush: lobby.SongRushConfig{
			StepSize:       c.SongRush.StepSize,
			AbandonSeconds: c.SongRush.AbandonSeconds,
			CloseDelay:     c.SongRush.CloseDelay.Duration,
		},
		Auto: lobby.AutoConfig{
			IdleTimeout: c.Auto.IdleTimeout.Duration,
			CloseDelay:  c.Auto.CloseDelay.Duration,
		},
		Qualifier: lobby.QualifierConfig{
			EmptyCloseDelay: c.Qualifier.EmptyCloseDelay.Duration,
			CloseDelay:      c.Qualifier.CloseDelay.Duration,
		},
		Pools: pools,
	}
}

func (c Config) isAdmin(name string) bool {
	for _, a := range c.Admins {
		if osu.NormalizeName(a) == osu.NormalizeName(name) {
			return true
		}
	}
	return false
}
