package telegram

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/flemzord/modbot/internal/config"
)

// AllowedUpdates are the update kinds the bot asks Telegram for.
var AllowedUpdates = []string{"message", "callback_query", "my_chat_member"}

// Options configures the Telegram connection.
type Options struct {
	Token   string
	Network config.NetworkConfig

	// APIURL overrides the Bot API endpoint, for tests and local Bot API
	// servers. Defaults to telebot's.
	APIURL string

	// Updates is the size of the update queue. Defaults to 100.
	Updates int
}

func (o *Options) defaults() {
	if o.Network.ConnectTimeout <= 0 {
		o.Network.ConnectTimeout = config.Duration(config.DefaultConnectTimeout)
	}
	if o.Network.ReadTimeout <= 0 {
		o.Network.ReadTimeout = config.Duration(config.DefaultReadTimeout)
	}
	if o.Network.WriteTimeout <= 0 {
		o.Network.WriteTimeout = config.Duration(config.DefaultWriteTimeout)
	}
	if o.Network.PollInterval <= 0 {
		o.Network.PollInterval = config.Duration(config.DefaultPollInterval)
	}
	if o.Updates <= 0 {
		o.Updates = 100
	}
}

func (o *Options) validate() error {
	if o.Token == "" {
		return fmt.Errorf("%w: telegram token is required", config.ErrConfig)
	}
	if o.APIURL != "" {
		u, err := url.Parse(o.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: telegram api url must be a valid http/https URL, got %q", config.ErrConfig, o.APIURL)
		}
	}
	return nil
}

// httpClient builds the Bot API client. A long poll holds the request open
// for the poll interval, so the overall timeout has to cover it on top of
// the read and write timeouts.
func httpClient(n config.NetworkConfig) *http.Client {
	dialer := &net.Dialer{Timeout: n.ConnectTimeout.Std(), KeepAlive: 30 * time.Second}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = n.ConnectTimeout.Std()
	transport.ResponseHeaderTimeout = n.PollInterval.Std() + n.ReadTimeout.Std()

	return &http.Client{
		Transport: transport,
		Timeout:   n.PollInterval.Std() + n.ReadTimeout.Std() + n.WriteTimeout.Std(),
	}
}
