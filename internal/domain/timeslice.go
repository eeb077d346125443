package domain

import "time"

// SecurityChanges es el diff de universo producido por una selección:
// símbolos añadidos y eliminados desde la última selección.
//
// Invariante: Added y Removed son conjuntos disjuntos (spec.md §3 y §8). Si
// un símbolo aparece en ambos lados por re-selección rápida, Added gana
// (spec.md §4.3 "Ties").
type SecurityChanges struct {
	Added   []Symbol
	Removed []Symbol
}

// IsEmpty devuelve true si no hubo altas ni bajas.
func (c SecurityChanges) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0
}

// Merge combina dos SecurityChanges consecutivos, resolviendo solapes con la
// regla "Added gana" de spec.md §4.3.
func Merge(changes ...SecurityChanges) SecurityChanges {
	addedSet := make(map[string]Symbol)
	removedSet := make(map[string]Symbol)
	for _, c := range changes {
		for _, s := range c.Added {
			addedSet[s.ID] = s
			delete(removedSet, s.ID)
		}
		for _, s := range c.Removed {
			if _, isAdded := addedSet[s.ID]; isAdded {
				continue
			}
			removedSet[s.ID] = s
		}
	}
	out := SecurityChanges{
		Added:   make([]Symbol, 0, len(addedSet)),
		Removed: make([]Symbol, 0, len(removedSet)),
	}
	for _, s := range addedSet {
		out.Added = append(out.Added, s)
	}
	for _, s := range removedSet {
		out.Removed = append(out.Removed, s)
	}
	return out
}

// SymbolData agrupa, por símbolo, todos los BaseData de un tipo emitidos en un slice.
type SymbolData struct {
	TradeBars           map[string]TradeBar
	QuoteBars           map[string]QuoteBar
	Ticks               map[string][]Tick
	Dividends           map[string]Dividend
	Splits              map[string]Split
	Delistings          map[string]Delisting
	MarginInterestRates map[string]MarginInterestRate
	Custom              map[string][]CustomData
}

func newSymbolData() SymbolData {
	return SymbolData{
		TradeBars:           make(map[string]TradeBar),
		QuoteBars:           make(map[string]QuoteBar),
		Ticks:               make(map[string][]Tick),
		Dividends:           make(map[string]Dividend),
		Splits:              make(map[string]Split),
		Delistings:          make(map[string]Delisting),
		MarginInterestRates: make(map[string]MarginInterestRate),
		Custom:              make(map[string][]CustomData),
	}
}

// Add clasifica un BaseData dentro del bucket correspondiente a su tipo
// concreto. Dos barras para el mismo símbolo nunca se duplican (spec.md §4.4
// "Ordering guarantees"): la última en llegar dentro del mismo slice gana,
// que es el comportamiento esperado porque el Synchronizer solo entrega un
// punto por símbolo y tipo por frontera.
func (d *SymbolData) Add(data BaseData) {
	sym := data.Symbol().ID
	switch v := data.(type) {
	case TradeBar:
		d.TradeBars[sym] = v
	case QuoteBar:
		d.QuoteBars[sym] = v
	case Tick:
		d.Ticks[sym] = append(d.Ticks[sym], v)
	case Dividend:
		d.Dividends[sym] = v
	case Split:
		d.Splits[sym] = v
	case Delisting:
		d.Delistings[sym] = v
	case MarginInterestRate:
		d.MarginInterestRates[sym] = v
	case CustomData:
		d.Custom[sym] = append(d.Custom[sym], v)
	}
}

// Count devuelve el número total de puntos de dato contenidos en el bucket.
func (d SymbolData) Count() int {
	n := len(d.TradeBars) + len(d.QuoteBars) + len(d.Dividends) + len(d.Splits) +
		len(d.Delistings) + len(d.MarginInterestRates)
	for _, t := range d.Ticks {
		n += len(t)
	}
	for _, c := range d.Custom {
		n += len(c)
	}
	return n
}

// TimeSlice es el paquete de datos que el Synchronizer entrega al consumidor
// en cada frontera: contiene todo dato cuyo EndTime() <= UTCTime, agrupado por
// símbolo y tipo, más los SecurityChanges acumulados desde el slice anterior.
//
// Invariante (spec.md §3, §8): UTCTime es no-decreciente a través de slices
// sucesivos emitidos por un mismo Synchronizer.
type TimeSlice struct {
	UTCTime         time.Time
	Data            SymbolData
	SecurityChanges SecurityChanges
	UniverseData    map[string][]BaseData // datos de universo (p.ej. filas de cadena) por símbolo canónico
	IsTimePulse     bool                  // true si el slice no lleva datos, solo avanza el reloj (spec.md §4.4 paso 3)
}

// NewTimeSlice construye un TimeSlice vacío listo para recibir datos vía Data.Add.
func NewTimeSlice(utcTime time.Time) *TimeSlice {
	return &TimeSlice{
		UTCTime:      utcTime,
		Data:         newSymbolData(),
		UniverseData: make(map[string][]BaseData),
	}
}

// Empty devuelve true si el slice no contiene datos ni cambios de universo.
func (t TimeSlice) Empty() bool {
	return t.Data.Count() == 0 && t.SecurityChanges.IsEmpty() && len(t.UniverseData) == 0
}
