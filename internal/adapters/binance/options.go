package binance

import (
	"strings"
	"time"
)

type metadata struct {
	apiBaseURL       string
	websocketBaseURL string
	identifier       string
	exchangeInfoPath string
	bracketPath      string
	ticker24hPath    string
	tickerPricePath  string
	bookTickerPath   string
	premiumIndexPath string
	accountPath      string
	balancePath      string
	openOrdersPath   string
	positionModePath string
	leveragePath     string
	orderPath        string
	batchOrdersPath  string
	allOrdersPath    string
	klinesPath       string
	listenKeyPath    string
}

var binanceMetadata = metadata{
	apiBaseURL:       "https://fapi.binance.com",
	websocketBaseURL: "wss://fstream.binance.com/ws",
	identifier:       "binance-usdm",
	exchangeInfoPath: "/fapi/v1/exchangeInfo",
	bracketPath:      "/fapi/v1/leverageBracket",
	ticker24hPath:    "/fapi/v1/ticker/24hr",
	tickerPricePath:  "/fapi/v1/ticker/price",
	bookTickerPath:   "/fapi/v1/ticker/bookTicker",
	premiumIndexPath: "/fapi/v1/premiumIndex",
	accountPath:      "/fapi/v2/account",
	balancePath:      "/fapi/v2/balance",
	openOrdersPath:   "/fapi/v1/openOrders",
	positionModePath: "/fapi/v1/positionSide/dual",
	leveragePath:     "/fapi/v1/leverage",
	orderPath:        "/fapi/v1/order",
	batchOrdersPath:  "/fapi/v1/batchOrders",
	allOrdersPath:    "/fapi/v1/allOpenOrders",
	klinesPath:       "/fapi/v1/klines",
	listenKeyPath:    "/fapi/v1/listenKey",
}

const (
	defaultHTTPTimeout        = 10 * time.Second
	defaultRecvWindow         = 5 * time.Second
	defaultTickInterval       = 5 * time.Second
	defaultListenKeyKeepAlive = 30 * time.Minute
	defaultPingInterval       = 10 * time.Second
)

// Config captures user-overridable adapter settings.
type Config struct {
	Name               string
	APIKey             string
	APISecret          string
	RESTBaseURL        string
	WSPrivateURL       string
	HTTPTimeout        time.Duration
	RecvWindow         time.Duration
	TickInterval       time.Duration
	ListenKeyKeepAlive time.Duration
	PingInterval       time.Duration
}

// Options configure the Binance USDT-M adapter.
type Options struct {
	Config Config

	metadata metadata
}

func withDefaults(in Options) Options {
	in.metadata = binanceMetadata
	if v := strings.TrimSpace(in.Config.RESTBaseURL); v != "" {
		in.metadata.apiBaseURL = v
	}
	if v := strings.TrimSpace(in.Config.WSPrivateURL); v != "" {
		in.metadata.websocketBaseURL = v
	}
	if strings.TrimSpace(in.Config.Name) == "" {
		in.Config.Name = in.metadata.identifier
	}
	if in.Config.HTTPTimeout <= 0 {
		in.Config.HTTPTimeout = defaultHTTPTimeout
	}
	if in.Config.RecvWindow <= 0 {
		in.Config.RecvWindow = defaultRecvWindow
	}
	if in.Config.TickInterval <= 0 {
		in.Config.TickInterval = defaultTickInterval
	}
	if in.Config.ListenKeyKeepAlive <= 0 {
		in.Config.ListenKeyKeepAlive = defaultListenKeyKeepAlive
	}
	if in.Config.PingInterval <= 0 {
		in.Config.PingInterval = defaultPingInterval
	}
	return in
}

func (o Options) restEndpoint(path string) string {
	base := strings.TrimSuffix(strings.TrimSpace(o.metadata.apiBaseURL), "/")
	if base == "" {
		return ""
	}
	if strings.TrimSpace(path) == "" {
		return base
	}
	if strings.HasPrefix(path, "/") {
		return base + path
	}
	return base + "/" + path
}

func (o Options) exchangeInfoEndpoint() string { return o.restEndpoint(o.metadata.exchangeInfoPath) }
func (o Options) bracketEndpoint() string      { return o.restEndpoint(o.metadata.bracketPath) }
func (o Options) ticker24hEndpoint() string    { return o.restEndpoint(o.metadata.ticker24hPath) }
func (o Options) tickerPriceEndpoint() string  { return o.restEndpoint(o.metadata.tickerPricePath) }
func (o Options) bookTickerEndpoint() string   { return o.restEndpoint(o.metadata.bookTickerPath) }
func (o Options) premiumIndexEndpoint() string { return o.restEndpoint(o.metadata.premiumIndexPath) }
func (o Options) accountEndpoint() string      { return o.restEndpoint(o.metadata.accountPath) }
func (o Options) balanceEndpoint() string      { return o.restEndpoint(o.metadata.balancePath) }
func (o Options) openOrdersEndpoint() string   { return o.restEndpoint(o.metadata.openOrdersPath) }
func (o Options) positionModeEndpoint() string { return o.restEndpoint(o.metadata.positionModePath) }
func (o Options) leverageEndpoint() string     { return o.restEndpoint(o.metadata.leveragePath) }
func (o Options) orderEndpoint() string        { return o.restEndpoint(o.metadata.orderPath) }
func (o Options) batchOrdersEndpoint() string  { return o.restEndpoint(o.metadata.batchOrdersPath) }
func (o Options) allOrdersEndpoint() string    { return o.restEndpoint(o.metadata.allOrdersPath) }
func (o Options) klinesEndpoint() string       { return o.restEndpoint(o.metadata.klinesPath) }
func (o Options) listenKeyEndpoint() string    { return o.restEndpoint(o.metadata.listenKeyPath) }

func (o Options) httpTimeoutDuration() time.Duration        { return o.Config.HTTPTimeout }
func (o Options) recvWindowDuration() time.Duration         { return o.Config.RecvWindow }
func (o Options) tickIntervalDuration() time.Duration       { return o.Config.TickInterval }
func (o Options) listenKeyKeepAliveDuration() time.Duration { return o.Config.ListenKeyKeepAlive }
func (o Options) pingIntervalDuration() time.Duration       { return o.Config.PingInterval }

func (o Options) websocketURL() string { return o.metadata.websocketBaseURL }
