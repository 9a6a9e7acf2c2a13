package mongodb

import (
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoConfig struct {
	URI            string        `yaml:"uri" mapstructure:"uri"` // 设置后优先于 host
	Host           string        `yaml:"host" mapstructure:"host"`
	DBName         string        `yaml:"dbname" mapstructure:"dbname"`
	Username       string        `yaml:"username" mapstructure:"username"`
	Password       string        `yaml:"password" mapstructure:"password"`
	AuthSource     string        `yaml:"authSource" mapstructure:"authSource"`
	ConnectTimeout time.Duration `yaml:"connectTimeout" mapstructure:"connectTimeout"`
}

// ConnectionURI mongodb://host，或显式配置的 uri
func (c MongoConfig) ConnectionURI() string {
	if c.URI != "" {
		return c.URI
	}
	host := c.Host
	if host == "" {
		host = "localhost:27017"
	}
	return (&url.URL{Scheme: "mongodb", Host: host, Path: "/"}).String()
}

// ClientOptions 连接参数；用户名为空时不带认证
func (c MongoConfig) ClientOptions() *options.ClientOptions {
	opts := options.Client().ApplyURI(c.ConnectionURI())
	if c.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   c.Username,
			Password:   c.Password,
			AuthSource: c.AuthSource,
		})
	}
	if c.ConnectTimeout > 0 {
		opts.SetConnectTimeout(c.ConnectTimeout)
	}
	return opts
}
