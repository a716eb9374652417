// Package weather implements the daily per-city weather push against the
// QWeather HTTP API (geo lookup + 3-day forecast + active warnings).
// Entities are city names as the user typed them; each fetch resolves the
// city fresh, so renames on the provider side are picked up.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"kibot/internal/transport"
	"kibot/pkg/logx"
)

var ErrCityNotFound = errors.New("city not found")

type Config struct {
	Host    string // e.g. "https://devapi.qweather.com"
	Key     string
	Timeout time.Duration
}

type Service struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  Config{Host: strings.TrimRight(cfg.Host, "/"), Key: cfg.Key, Timeout: timeout},
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

type location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Adm1 string `json:"adm1"`
	Adm2 string `json:"adm2"`
}

type dailyForecast struct {
	FxDate       string `json:"fxDate"`
	TempMax      string `json:"tempMax"`
	TempMin      string `json:"tempMin"`
	TextDay      string `json:"textDay"`
	TextNight    string `json:"textNight"`
	WindDirDay   string `json:"windDirDay"`
	WindScaleDay string `json:"windScaleDay"`
	Humidity     string `json:"humidity"`
	Precip       string `json:"precip"`
	UVIndex      string `json:"uvIndex"`
}

type warning struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// CheckLocation reports whether the provider knows the city. Used to
// validate subscribe requests before they are stored.
func (s *Service) CheckLocation(ctx context.Context, city string) (bool, error) {
	_, err := s.lookup(ctx, city)
	if errors.Is(err, ErrCityNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Fetch implements push.DailySource: today's forecast for the city, plus
// any active weather warnings.
func (s *Service) Fetch(ctx context.Context, city string) (transport.Content, error) {
	loc, err := s.lookup(ctx, city)
	if err != nil {
		return transport.Content{}, err
	}

	var fc struct {
		Daily []dailyForecast `json:"daily"`
	}
	if err := s.get(ctx, "/v7/weather/3d", url.Values{"location": {loc.ID}}, &fc); err != nil {
		return transport.Content{}, fmt.Errorf("forecast for %s: %w", city, err)
	}
	if len(fc.Daily) == 0 {
		return transport.Content{}, fmt.Errorf("forecast for %s: empty daily list", city)
	}
	today := fc.Daily[0]

	// Warnings are best-effort; a failed call just omits them.
	var wr struct {
		Warning []warning `json:"warning"`
	}
	if err := s.get(ctx, "/v7/warning/now", url.Values{"location": {loc.ID}}, &wr); err != nil {
		s.log.Debug("warning fetch failed", logx.String("city", city), logx.Err(err))
	}

	return render(*loc, today, wr.Warning), nil
}

func render(loc location, d dailyForecast, warnings []warning) transport.Content {
	var b strings.Builder
	fmt.Fprintf(&b, "🌤️ Today's weather: %s", loc.Name)
	if loc.Adm1 != "" && loc.Adm1 != loc.Name {
		fmt.Fprintf(&b, " (%s)", loc.Adm1)
	}
	fmt.Fprintf(&b, "\n\n☀️ Day: %s / 🌙 Night: %s", d.TextDay, d.TextNight)
	fmt.Fprintf(&b, "\n🌡️ %s°C ~ %s°C", d.TempMin, d.TempMax)
	if d.WindDirDay != "" {
		fmt.Fprintf(&b, "\n🍃 %s %s", d.WindDirDay, windScale(d.WindScaleDay))
	}
	if d.Humidity != "" {
		fmt.Fprintf(&b, "\n💧 Humidity %s%%", d.Humidity)
	}
	if d.Precip != "" && d.Precip != "0.0" {
		fmt.Fprintf(&b, "\n🌧️ Precipitation %s mm", d.Precip)
	}
	if d.UVIndex != "" {
		fmt.Fprintf(&b, "\n🕶️ UV index %s", d.UVIndex)
	}
	for _, w := range warnings {
		fmt.Fprintf(&b, "\n\n⚠️ %s", w.Title)
	}
	return transport.Content{Text: b.String()}
}

func windScale(s string) string {
	if s == "" {
		return ""
	}
	return "force " + s
}

func (s *Service) lookup(ctx context.Context, city string) (*location, error) {
	var out struct {
		Location []location `json:"location"`
	}
	err := s.get(ctx, "/geo/v2/city/lookup", url.Values{"location": {city}}, &out)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", city, err)
	}
	if len(out.Location) == 0 {
		return nil, fmt.Errorf("lookup %s: %w", city, ErrCityNotFound)
	}
	return &out.Location[0], nil
}

// get calls a QWeather endpoint. The API wraps everything in a body with a
// string "code"; "200" is success and "404" means no data for the query.
func (s *Service) get(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("key", s.cfg.Key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.Host+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var env struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Code {
	case "200":
	case "404":
		return ErrCityNotFound
	default:
		return fmt.Errorf("api code %s", env.Code)
	}
	return json.Unmarshal(b, out)
}
