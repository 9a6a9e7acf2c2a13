package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"skin-sync/internal/middleware/logger"
	"skin-sync/internal/skin_sync/browser"
	"skin-sync/internal/skin_sync/fetcher"
	"skin-sync/internal/skin_sync/scraper"
	"skin-sync/pkg/mongodb"
)

type Config struct {
	Server  ServerConfig        `mapstructure:"server"`
	Log     logger.Config       `mapstructure:"log"`
	Storage StorageConfig       `mapstructure:"storage"`
	Mongo   mongodb.MongoConfig `mapstructure:"mongo"`
	Redis   RedisConfig         `mapstructure:"redis"`
	Target  scraper.Target      `mapstructure:"target"`
	Browser browser.Options     `mapstructure:"browser"`
	Fetch   FetchConfig         `mapstructure:"fetch"`
	Sync    SyncConfig          `mapstructure:"sync"`
	Time    TimeConfig          `mapstructure:"time"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// StorageConfig driver: mongo | memory
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"` // 为空时 token 只缓存在内存
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TokenKey string `mapstructure:"tokenKey"`
}

type FetchConfig struct {
	RequestTimeout    time.Duration `mapstructure:"requestTimeout"`
	PageDelay         time.Duration `mapstructure:"pageDelay"`
	ErrorDelay        time.Duration `mapstructure:"errorDelay"`
	MaxFetchRetries   int           `mapstructure:"maxFetchRetries"`
	MaxAuthRetries    int           `mapstructure:"maxAuthRetries"`
	ReauthEveryPages  int           `mapstructure:"reauthEveryPages"`
	EmptyPageStop     int           `mapstructure:"emptyPageStop"`
	ForcePageSize     int           `mapstructure:"forcePageSize"`
	MaxPages          int           `mapstructure:"maxPages"`
	DateOffsetMinutes int           `mapstructure:"dateOffsetMinutes"`
}

// Options 转成抓取引擎参数
func (f FetchConfig) Options() fetcher.Options {
	return fetcher.Options{
		PageDelay:         f.PageDelay,
		ErrorDelay:        f.ErrorDelay,
		MaxFetchRetries:   f.MaxFetchRetries,
		MaxAuthRetries:    f.MaxAuthRetries,
		ReauthEveryPages:  f.ReauthEveryPages,
		EmptyPageStop:     f.EmptyPageStop,
		ForcePageSize:     f.ForcePageSize,
		MaxPages:          f.MaxPages,
		DateOffsetMinutes: f.DateOffsetMinutes,
	}
}

type SyncConfig struct {
	CronEnabled  bool          `mapstructure:"cronEnabled"`
	Cron         string        `mapstructure:"cron"`
	ChunkRanges  bool          `mapstructure:"chunkRanges"`
	PollInterval time.Duration `mapstructure:"pollInterval"`
}

type TimeConfig struct {
	Source  string `mapstructure:"source"`
	Display string `mapstructure:"display"`
}

// Load 读取 YAML 配置，环境变量 SKIN_<SECTION>_<KEY> 覆盖；envOnly 时不读文件
func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SKIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	def := fetcher.DefaultOptions()
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("storage.driver", "mongo")
	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.host", "localhost:27017")
	v.SetDefault("mongo.dbname", "skin_sync")
	v.SetDefault("mongo.username", "")
	v.SetDefault("mongo.password", "")
	v.SetDefault("mongo.authSource", "admin")
	v.SetDefault("mongo.connectTimeout", "10s")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tokenKey", "skin-sync:access_token")
	v.SetDefault("target.homeURL", "https://zm.bitmoji-zmlh.com/skinmgr/")
	v.SetDefault("target.targetURL", "https://zm.bitmoji-zmlh.com/skinmgr/#/skinmgr/recordsList")
	v.SetDefault("target.listURL", scraper.DefaultListURL)
	v.SetDefault("target.listPath", "/skinMgrSrv/record/list")
	v.SetDefault("target.bootstrapFile", "")
	v.SetDefault("target.username", "")
	v.SetDefault("target.password", "")
	v.SetDefault("target.locale", "en")
	v.SetDefault("target.tokenTTL", "12h")
	v.SetDefault("target.discoveryWait", "20s")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.execPath", "")
	v.SetDefault("browser.userAgent", browser.DefaultUserAgent)
	v.SetDefault("browser.navTimeout", "60s")
	v.SetDefault("browser.windowWidth", 1440)
	v.SetDefault("browser.windowHeight", 900)
	v.SetDefault("fetch.requestTimeout", "30s")
	v.SetDefault("fetch.pageDelay", def.PageDelay.String())
	v.SetDefault("fetch.errorDelay", def.ErrorDelay.String())
	v.SetDefault("fetch.maxFetchRetries", def.MaxFetchRetries)
	v.SetDefault("fetch.maxAuthRetries", def.MaxAuthRetries)
	v.SetDefault("fetch.reauthEveryPages", def.ReauthEveryPages)
	v.SetDefault("fetch.emptyPageStop", def.EmptyPageStop)
	v.SetDefault("fetch.forcePageSize", 0)
	v.SetDefault("fetch.maxPages", def.MaxPages)
	v.SetDefault("fetch.dateOffsetMinutes", 0)
	v.SetDefault("sync.cronEnabled", true)
	v.SetDefault("sync.cron", "*/10 * * * *")
	v.SetDefault("sync.chunkRanges", true)
	v.SetDefault("sync.pollInterval", "2s")
	v.SetDefault("time.source", "Asia/Shanghai")
	v.SetDefault("time.display", "Asia/Ho_Chi_Minh")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
