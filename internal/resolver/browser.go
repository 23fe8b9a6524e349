package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	webClientURL    = "https://web.whatsapp.com"
	defaultPageWait = 2 * time.Minute
)

// The web client exposes its contact directory two ways; try the legacy
// Store object first, then the module registry.
const jsStoreContact = `(lid) => {
	try {
		const c = window.Store?.Contact?.get(lid);
		return c?.id?.user ? c.id.user + '@c.us' : null;
	} catch (e) {
		return null;
	}
}`

const jsAPIContact = `(lid) => {
	try {
		const jid = window.require("WAWebJidToWid");
		const api = window.require("WAWebApiContact");
		const internalLid = jid.lidUserJidToUserLid(lid);
		const out = api.getPhoneNumber(internalLid);
		if (!out) return null;
		return out._serialized || out;
	} catch (e) {
		return null;
	}
}`

// BrowserConfig configures the headless browser session used for resolution.
type BrowserConfig struct {
	// UserDataDir holds the browser profile with the logged-in WhatsApp Web
	// session. Resolution fails without an authenticated profile.
	UserDataDir string `json:"user_data_dir"`

	// PageWait bounds how long to wait for the web client to finish loading.
	PageWait time.Duration `json:"-"`
}

// BrowserResolver resolves handles by loading WhatsApp Web in a headless
// browser and reading the client's contact directory. Each call runs a full
// browser lifecycle; the Cache wrapper keeps this rare.
type BrowserResolver struct {
	cfg BrowserConfig
}

// NewBrowserResolver creates a browser-backed resolver.
func NewBrowserResolver(cfg BrowserConfig) *BrowserResolver {
	if cfg.PageWait <= 0 {
		cfg.PageWait = defaultPageWait
	}
	return &BrowserResolver{cfg: cfg}
}

// Resolve drives a headless browser session to read the contact mapping.
func (r *BrowserResolver) Resolve(ctx context.Context, participant string) (string, error) {
	l := launcher.New().
		Headless(true).
		Set("no-sandbox").
		Set("disable-setuid-sandbox")
	if r.cfg.UserDataDir != "" {
		l = l.UserDataDir(r.cfg.UserDataDir)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", fmt.Errorf("connect browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.Page(proto.TargetCreateTarget{URL: webClientURL})
	if err != nil {
		return "", fmt.Errorf("open %s: %w", webClientURL, err)
	}
	page = page.Timeout(r.cfg.PageWait)

	// The composer textbox appearing means the client finished loading and
	// its stores are populated.
	if _, err := page.Element(`div[role="textbox"]`); err != nil {
		return "", fmt.Errorf("web client did not load: %w", err)
	}

	for _, script := range []string{jsStoreContact, jsAPIContact} {
		obj, err := page.Eval(script, participant)
		if err != nil {
			return "", fmt.Errorf("evaluate contact lookup: %w", err)
		}
		if contact := obj.Value.Str(); contact != "" {
			return contact, nil
		}
	}

	return "", ErrNotFound
}
