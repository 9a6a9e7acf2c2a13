package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"skin-sync/internal/skin_sync/auth"
	"skin-sync/internal/skin_sync/client"
	"skin-sync/internal/skin_sync/daterange"
	"skin-sync/internal/skin_sync/discovery"
	"skin-sync/internal/skin_sync/fetcher"
	"skin-sync/internal/skin_sync/model"
	"skin-sync/internal/skin_sync/processor"
	"skin-sync/pkg/metrics"
)

// DefaultListURL 列表接口地址
const DefaultListURL = "https://zm.bitmoji-zmlh.com/skinMgrSrv/record/list"

// Browser 一次抓取使用的浏览器会话
type Browser interface {
	discovery.Session
	auth.Page
	Close()
}

// Opener 打开新的浏览器会话
type Opener func(ctx context.Context) (Browser, error)

// Target 管理后台地址和账号
type Target struct {
	HomeURL       string        `mapstructure:"homeURL"`
	TargetURL     string        `mapstructure:"targetURL"`
	ListURL       string        `mapstructure:"listURL"`
	ListPath      string        `mapstructure:"listPath"`
	BootstrapFile string        `mapstructure:"bootstrapFile"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Locale        string        `mapstructure:"locale"`
	TokenTTL      time.Duration `mapstructure:"tokenTTL"`
	DiscoveryWait time.Duration `mapstructure:"discoveryWait"`
}

// Job 一次抓取请求；Range 为空表示全部数据
type Job struct {
	Range       *daterange.Range
	Incremental bool
	Save        bool
	Token       string
	Chunked     bool
	Reason      string
}

// Report 抓取结果
type Report struct {
	Result  *fetcher.Result
	Outcome model.Outcome
	Saved   bool
	Took    time.Duration
}

// Items 去重后的原始数据
func (r *Report) Items() []map[string]any {
	if r == nil || r.Result == nil {
		return nil
	}
	return r.Result.Items
}

// Runner 打开浏览器、登录、发现契约、翻页抓取并入库
type Runner struct {
	Log       *zap.Logger
	Open      Opener
	Transport client.Transport
	Exchange  auth.TokenSource
	Cache     auth.TokenCache
	Sink      *processor.Sink
	Keys      discovery.KeyStrategy
	Opts      fetcher.Options
	Target    Target
	Metrics   *metrics.Metrics
	// ChunkRanges 队列任务按月分片抓取
	ChunkRanges bool
	Now         func() time.Time
}

// Scrape 执行一次完整会话，浏览器用完即关
func (r *Runner) Scrape(ctx context.Context, job Job) (*Report, error) {
	start := time.Now()
	reason := job.Reason
	if reason == "" {
		reason = "manual"
	}
	rep, err := r.scrape(ctx, job)
	took := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
	}
	r.Metrics.Session(reason, status, took)
	if rep != nil {
		rep.Took = took
	}
	return rep, err
}

func (r *Runner) scrape(ctx context.Context, job Job) (*Report, error) {
	if r.Open == nil {
		return nil, errors.New("scraper: no browser opener configured")
	}
	b, err := r.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("scraper: open browser: %w", err)
	}
	defer b.Close()

	authn := &auth.BrowserAuth{
		Log:       r.Log,
		Page:      b,
		Exchange:  r.Exchange,
		Cache:     r.Cache,
		CacheTTL:  r.Target.TokenTTL,
		HomeURL:   r.Target.HomeURL,
		TargetURL: r.Target.TargetURL,
		Username:  r.Target.Username,
		Password:  r.Target.Password,
		Forced:    job.Token,
		Locale:    r.Target.Locale,
		Now:       r.Now,
	}
	headers, err := authn.Login(ctx)
	if err != nil {
		return nil, fmt.Errorf("scraper: login: %w", err)
	}

	bs, err := r.bootstrap(headers)
	if err != nil {
		return nil, err
	}
	keys := r.Keys
	if len(keys.PageKeys) == 0 {
		keys = discovery.DefaultKeys
	}
	engine := &fetcher.Engine{
		Log:       r.Log,
		Transport: r.Transport,
		Discoverer: &discovery.Discoverer{
			Log:          r.Log,
			Session:      b,
			Transport:    r.Transport,
			Keys:         keys,
			ListPath:     r.Target.ListPath,
			Wait:         r.Target.DiscoveryWait,
			StripDates:   job.Range != nil,
			BumpPageSize: true,
			Bootstrap:    bs,
		},
		Auth:    authn,
		Keys:    keys,
		Opts:    r.Opts,
		Metrics: r.Metrics,
		Now:     r.Now,
	}

	fields := []zap.Field{zap.Bool("incremental", job.Incremental), zap.Bool("save", job.Save)}
	if job.Range != nil {
		fields = append(fields, zap.String("start", job.Range.Start), zap.String("end", job.Range.End))
	}
	r.Log.Info("Scrape started", fields...)

	res, err := engine.Run(ctx, fetcher.Request{Range: job.Range, Chunked: job.Chunked})
	if err != nil {
		return &Report{Result: res}, err
	}
	rep := &Report{Result: res, Outcome: model.Outcome{Total: len(res.Items)}}
	if job.Save && r.Sink != nil {
		out, err := r.Sink.Ingest(ctx, res.Items)
		rep.Outcome = out
		rep.Saved = err == nil
		if err != nil {
			return rep, err
		}
	}
	r.Log.Info("Scrape finished",
		zap.Int("unique", res.Unique),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("pages", res.Pages),
		zap.Int("failedPages", len(res.FailedPages)),
		zap.Int("new", rep.Outcome.New),
		zap.Int("updated", rep.Outcome.Updated),
	)
	return rep, nil
}

// bootstrap 预置请求带上刚拿到的会话头
func (r *Runner) bootstrap(headers model.SessionHeaders) (*discovery.Bootstrap, error) {
	var bs *discovery.Bootstrap
	if r.Target.BootstrapFile != "" {
		loaded, err := discovery.LoadBootstrap(r.Target.BootstrapFile)
		if err != nil {
			return nil, fmt.Errorf("scraper: %w", err)
		}
		bs = loaded
	} else {
		listURL := r.Target.ListURL
		if listURL == "" {
			listURL = DefaultListURL
		}
		bs = discovery.DefaultBootstrap(listURL, "")
	}
	if bs.Headers == nil {
		bs.Headers = map[string]string{}
	}
	for k, v := range headers {
		if k == "x-tid" {
			continue
		}
		bs.Headers[k] = v
	}
	bs.Token = headers.Token()
	bs.TIDPrefix = auth.TIDPrefix(bs.Token)
	return bs, nil
}

// SyncRange 队列任务：抓取区间并入库
func (r *Runner) SyncRange(ctx context.Context, rg daterange.Range, incremental bool) (model.Outcome, error) {
	reason := "queue"
	if incremental {
		reason = "incremental"
	}
	rep, err := r.Scrape(ctx, Job{Range: &rg, Incremental: incremental, Save: true, Chunked: r.ChunkRanges && !incremental, Reason: reason})
	if rep == nil {
		return model.Outcome{}, err
	}
	return rep.Outcome, err
}
