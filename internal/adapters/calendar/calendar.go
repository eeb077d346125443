// Package calendar implementa ports.ExchangeHours a partir de un archivo CSV
// de feriados/cierres anticipados por mercado, con los horarios base de
// sesión cacheados en SQLite para evitar re-parsear el CSV en cada consulta
// (spec.md §10.4 del SPEC_FULL: datos de referencia, no estado del algoritmo).
package calendar

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/alejandrodnm/marketfeed/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS exchange_sessions (
    market      TEXT NOT NULL,
    open_hour   INTEGER NOT NULL,
    open_min    INTEGER NOT NULL,
    close_hour  INTEGER NOT NULL,
    close_min   INTEGER NOT NULL,
    ext_open_hour  INTEGER NOT NULL,
    ext_open_min   INTEGER NOT NULL,
    ext_close_hour INTEGER NOT NULL,
    ext_close_min  INTEGER NOT NULL,
    timezone    TEXT NOT NULL,
    PRIMARY KEY (market)
);

CREATE TABLE IF NOT EXISTS exchange_holidays (
    market TEXT NOT NULL,
    date   TEXT NOT NULL,  -- YYYY-MM-DD
    early_close_hour INTEGER NOT NULL DEFAULT -1, -- -1 = feriado completo
    early_close_min  INTEGER NOT NULL DEFAULT -1,
    PRIMARY KEY (market, date)
);
`

// Session es el horario base (sin feriados) de un mercado.
type Session struct {
	Market     string
	Open       time.Duration // offset desde medianoche, hora local del mercado
	Close      time.Duration
	ExtOpen    time.Duration
	ExtClose   time.Duration
	TimeZone   string
}

// Holiday es una excepción de calendario: feriado completo (EarlyClose < 0) o
// cierre anticipado (EarlyClose = offset desde medianoche).
type Holiday struct {
	Market     string
	Date       time.Time // solo año/mes/día, en UTC
	EarlyClose time.Duration
	IsFullDay  bool
}

// Store cachea sesiones y feriados parseados de CSV en SQLite, refrescando
// solo cuando el archivo backing cambió de mtime — el mismo patrón de
// "evitar reescrituras si el estado no cambió" que el cache en memoria de
// SQLiteStorage en el bot de referencia, aplicado a lecturas en vez de
// escrituras.
type Store struct {
	db       *sql.DB
	mu       sync.Mutex
	path     string
	lastLoad time.Time
	modTime  time.Time
}

// Open abre (o crea) la base SQLite en dsn y aplica el esquema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("calendar.Open: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("calendar.Open: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close cierra la conexión SQLite.
func (s *Store) Close() error { return s.db.Close() }

// LoadCSV parsea dos archivos CSV de calendario (sessionsPath con columnas
// market, open, close, ext_open, ext_close, timezone; holidaysPath con
// columnas market, date, early_close) y refresca el cache solo si el mtime de
// holidaysPath cambió desde la última carga; el mtime de sessionsPath no se
// consulta.
func (s *Store) LoadCSV(ctx context.Context, sessionsPath, holidaysPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(holidaysPath)
	if err != nil {
		return fmt.Errorf("calendar.LoadCSV: stat %q: %w", holidaysPath, err)
	}
	if !info.ModTime().After(s.modTime) && !s.lastLoad.IsZero() {
		return nil // sin cambios desde la última carga
	}

	sessions, err := parseSessionsCSV(sessionsPath)
	if err != nil {
		return fmt.Errorf("calendar.LoadCSV: %w", err)
	}
	holidays, err := parseHolidaysCSV(holidaysPath)
	if err != nil {
		return fmt.Errorf("calendar.LoadCSV: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("calendar.LoadCSV: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM exchange_sessions`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM exchange_holidays`); err != nil {
		return err
	}
	for _, sess := range sessions {
		_, err := tx.ExecContext(ctx, `INSERT INTO exchange_sessions
			(market, open_hour, open_min, close_hour, close_min, ext_open_hour, ext_open_min, ext_close_hour, ext_close_min, timezone)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			sess.Market,
			int(sess.Open.Hours()), int(sess.Open.Minutes())%60,
			int(sess.Close.Hours()), int(sess.Close.Minutes())%60,
			int(sess.ExtOpen.Hours()), int(sess.ExtOpen.Minutes())%60,
			int(sess.ExtClose.Hours()), int(sess.ExtClose.Minutes())%60,
			sess.TimeZone,
		)
		if err != nil {
			return fmt.Errorf("calendar.LoadCSV: insert session %s: %w", sess.Market, err)
		}
	}
	for _, h := range holidays {
		hour, min := -1, -1
		if !h.IsFullDay {
			hour, min = int(h.EarlyClose.Hours()), int(h.EarlyClose.Minutes())%60
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO exchange_holidays (market, date, early_close_hour, early_close_min) VALUES (?,?,?,?)`,
			h.Market, h.Date.Format("2006-01-02"), hour, min,
		)
		if err != nil {
			return fmt.Errorf("calendar.LoadCSV: insert holiday %s/%s: %w", h.Market, h.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("calendar.LoadCSV: commit: %w", err)
	}

	s.modTime = info.ModTime()
	s.lastLoad = time.Now()
	return nil
}

func parseSessionsCSV(path string) ([]Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []Session
	for i, rec := range records {
		if i == 0 || len(rec) < 6 {
			continue // encabezado o fila corta
		}
		out = append(out, Session{
			Market:   rec[0],
			Open:     parseClock(rec[1]),
			Close:    parseClock(rec[2]),
			ExtOpen:  parseClock(rec[3]),
			ExtClose: parseClock(rec[4]),
			TimeZone: rec[5],
		})
	}
	return out, nil
}

func parseHolidaysCSV(path string) ([]Holiday, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []Holiday
	for i, rec := range records {
		if i == 0 || len(rec) < 2 {
			continue
		}
		date, err := time.Parse("2006-01-02", rec[1])
		if err != nil {
			continue
		}
		h := Holiday{Market: rec[0], Date: date}
		if len(rec) >= 3 && rec[2] != "" {
			h.EarlyClose = parseClock(rec[2])
		} else {
			h.IsFullDay = true
		}
		out = append(out, h)
	}
	return out, nil
}

func parseClock(s string) time.Duration {
	var h, m int
	fmt.Sscanf(s, "%d:%d", &h, &m)
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
}

// Exchange implementa ports.ExchangeHours sobre un Store previamente cargado.
type Exchange struct {
	store *Store
}

// NewExchange construye un adaptador ports.ExchangeHours sobre store.
func NewExchange(store *Store) *Exchange {
	return &Exchange{store: store}
}

func (e *Exchange) session(market string) (Session, bool) {
	row := e.store.db.QueryRow(`SELECT open_hour, open_min, close_hour, close_min,
		ext_open_hour, ext_open_min, ext_close_hour, ext_close_min, timezone
		FROM exchange_sessions WHERE market = ?`, market)
	var oh, om, ch, cm, eoh, eom, ech, ecm int
	var tz string
	if err := row.Scan(&oh, &om, &ch, &cm, &eoh, &eom, &ech, &ecm, &tz); err != nil {
		return Session{}, false
	}
	return Session{
		Market:   market,
		Open:     time.Duration(oh)*time.Hour + time.Duration(om)*time.Minute,
		Close:    time.Duration(ch)*time.Hour + time.Duration(cm)*time.Minute,
		ExtOpen:  time.Duration(eoh)*time.Hour + time.Duration(eom)*time.Minute,
		ExtClose: time.Duration(ech)*time.Hour + time.Duration(ecm)*time.Minute,
		TimeZone: tz,
	}, true
}

func (e *Exchange) holiday(market string, day time.Time) (Holiday, bool) {
	row := e.store.db.QueryRow(`SELECT early_close_hour, early_close_min FROM exchange_holidays WHERE market = ? AND date = ?`,
		market, day.Format("2006-01-02"))
	var hour, min int
	if err := row.Scan(&hour, &min); err != nil {
		return Holiday{}, false
	}
	if hour < 0 {
		return Holiday{Market: market, Date: day, IsFullDay: true}, true
	}
	return Holiday{Market: market, Date: day, EarlyClose: time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute}, true
}

func (e *Exchange) TimeZone(symbol domain.Symbol) *time.Location {
	sess, ok := e.session(symbol.Market)
	if !ok {
		return time.UTC
	}
	loc, err := time.LoadLocation(sess.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsOpen implementa ports.ExchangeHours.IsOpen (spec.md §2, §4.2 "bounded by
// exchange hours"). Un feriado completo cierra el mercado todo el día; un
// cierre anticipado recorta la sesión primaria (la sesión extendida, si se
// pide, sigue usando el cierre extendido normal salvo que el propio feriado
// lo recorte también — se simplifica aplicando el recorte a ambas).
func (e *Exchange) IsOpen(symbol domain.Symbol, utc time.Time, extended bool) bool {
	loc := e.TimeZone(symbol)
	local := utc.In(loc)
	sess, ok := e.session(symbol.Market)
	if !ok {
		return false
	}

	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	offset := local.Sub(dayStart)

	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}

	if h, ok := e.holiday(symbol.Market, dayStart.UTC()); ok {
		if h.IsFullDay {
			return false
		}
		if extended {
			return offset >= sess.ExtOpen && offset < h.EarlyClose
		}
		return offset >= sess.Open && offset < h.EarlyClose
	}

	if extended {
		return offset >= sess.ExtOpen && offset < sess.ExtClose
	}
	return offset >= sess.Open && offset < sess.Close
}

// NextMarketOpen implementa ports.ExchangeHours.NextMarketOpen, avanzando día
// a día hasta encontrar un día hábil no feriado-completo.
func (e *Exchange) NextMarketOpen(symbol domain.Symbol, after time.Time) time.Time {
	return e.nextBoundary(symbol, after, true)
}

// NextMarketClose implementa ports.ExchangeHours.NextMarketClose.
func (e *Exchange) NextMarketClose(symbol domain.Symbol, after time.Time) time.Time {
	return e.nextBoundary(symbol, after, false)
}

func (e *Exchange) nextBoundary(symbol domain.Symbol, after time.Time, open bool) time.Time {
	loc := e.TimeZone(symbol)
	sess, ok := e.session(symbol.Market)
	if !ok {
		return after
	}
	local := after.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	for i := 0; i < 14; i++ { // nunca más de dos semanas de feriados consecutivos
		if day.Weekday() != time.Saturday && day.Weekday() != time.Sunday {
			if h, isHoliday := e.holiday(symbol.Market, day.UTC()); !isHoliday || !h.IsFullDay {
				boundary := sess.Open
				if !open {
					boundary = sess.Close
					if isHoliday {
						boundary = h.EarlyClose
					}
				}
				candidate := day.Add(boundary)
				if candidate.After(after) {
					return candidate.UTC()
				}
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return after
}
