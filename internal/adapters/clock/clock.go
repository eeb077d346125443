// Package clock implementa ports.TimeProvider: un reloj de sistema para modo
// live, un reloj manual para tests deterministas, y los combinadores
// (Composite, Frontier) que spec.md §2 describe para la capa de reloj.
package clock

import (
	"sync"
	"time"

	coreerrors "github.com/alejandrodnm/marketfeed/internal/errors"
	"github.com/alejandrodnm/marketfeed/internal/ports"
)

// SystemTimeProvider devuelve la hora UTC real del sistema.
type SystemTimeProvider struct{}

// NewSystemTimeProvider crea un TimeProvider respaldado por time.Now().
func NewSystemTimeProvider() SystemTimeProvider { return SystemTimeProvider{} }

func (SystemTimeProvider) UtcNow() time.Time { return time.Now().UTC() }

// ManualTimeProvider es un TimeProvider controlado explícitamente, usado para
// determinismo en tests (spec.md §2).
type ManualTimeProvider struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualTimeProvider crea un ManualTimeProvider fijado en start.
func NewManualTimeProvider(start time.Time) *ManualTimeProvider {
	return &ManualTimeProvider{now: start.UTC()}
}

func (m *ManualTimeProvider) UtcNow() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// SetUtcNow fija el reloj a t. No se permite retroceder: spec.md §7 trata un
// reloj que retrocede como un error Fatal, así que SetUtcNow hace panic si
// t es anterior al valor actual — un error de programación en el test, no
// una condición a manejar en runtime.
func (m *ManualTimeProvider) SetUtcNow(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t = t.UTC()
	if t.Before(m.now) {
		panic(coreerrors.Fatalf("clock.ManualTimeProvider: SetUtcNow would move the clock backward (from %s to %s)", m.now, t))
	}
	m.now = t
}

// Advance mueve el reloj hacia adelante en d.
func (m *ManualTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// CompositeTimeProvider devuelve el mínimo instante entre varios providers
// (spec.md §2), útil para derivar un reloj combinado de varias fuentes
// asíncronas sin que ninguna se adelante a las demás.
type CompositeTimeProvider struct {
	providers []ports.TimeProvider
}

// NewCompositeTimeProvider crea un TimeProvider que es el mínimo de providers.
func NewCompositeTimeProvider(providers ...ports.TimeProvider) *CompositeTimeProvider {
	return &CompositeTimeProvider{providers: providers}
}

func (c *CompositeTimeProvider) UtcNow() time.Time {
	if len(c.providers) == 0 {
		return time.Now().UTC()
	}
	min := c.providers[0].UtcNow()
	for _, p := range c.providers[1:] {
		if t := p.UtcNow(); t.Before(min) {
			min = t
		}
	}
	return min
}

// EndTimeSource es cualquier cosa capaz de reportar el end_time_utc de su
// dato actual; las subscripciones activas implementan esta interfaz mínima
// para alimentar al FrontierTimeProvider sin acoplarlo al paquete subscription.
type EndTimeSource interface {
	CurrentEndTimeUTC() (time.Time, bool)
}

// FrontierTimeProvider devuelve el mínimo end_time_utc entre las fuentes
// activas, pero nunca retrocede respecto al último valor devuelto (spec.md
// §2: "never moves backward").
type FrontierTimeProvider struct {
	mu      sync.Mutex
	sources []EndTimeSource
	last    time.Time
}

// NewFrontierTimeProvider crea un FrontierTimeProvider sobre el conjunto de
// fuentes dado. Las fuentes pueden añadirse/quitarse dinámicamente con
// SetSources a medida que cambian las subscripciones activas.
func NewFrontierTimeProvider(sources ...EndTimeSource) *FrontierTimeProvider {
	return &FrontierTimeProvider{sources: sources}
}

// SetSources reemplaza el conjunto de fuentes monitorizadas.
func (f *FrontierTimeProvider) SetSources(sources []EndTimeSource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = sources
}

func (f *FrontierTimeProvider) UtcNow() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	var min time.Time
	found := false
	for _, s := range f.sources {
		t, ok := s.CurrentEndTimeUTC()
		if !ok {
			continue
		}
		if !found || t.Before(min) {
			min = t
			found = true
		}
	}
	if !found || min.Before(f.last) {
		return f.last
	}
	f.last = min
	return f.last
}
