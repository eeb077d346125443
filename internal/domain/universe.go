package domain

import "time"

// UniverseKind distingue las cuatro cadencias de selección de spec.md §4.3
// más los futuros continuos (UniverseContinuous).
type UniverseKind string

const (
	UniverseCoarseFundamental UniverseKind = "CoarseFundamental"
	UniverseChain             UniverseKind = "Chain"
	UniverseScheduled         UniverseKind = "Scheduled"
	UniverseConstituent       UniverseKind = "Constituent"
	UniverseContinuous        UniverseKind = "Continuous"
)

// UniverseSettings son las opciones que acompañan a una selección de universo.
type UniverseSettings struct {
	Resolution            Resolution
	FillForward            bool
	ExtendedMarketHours    bool
	MinimumTimeInUniverse  time.Duration
}

// SelectionFunc produce el conjunto de símbolos que deberían estar en el
// universo en el instante utcTime dado. Devolver nil o un slice vacío
// significa "ningún miembro" (no "sin cambios": el universo se diferencia
// contra el conjunto devuelto, nunca contra el anterior).
type SelectionFunc func(utcTime time.Time) ([]Symbol, error)

// Universe es un conjunto dinámico de símbolos producido por un selector
// periódico o programado (spec.md §3, §4.3).
type Universe struct {
	Name       string
	Kind       UniverseKind
	Canonical  Symbol // símbolo canónico para universos Chain; cero para los demás
	Settings   UniverseSettings
	Select     SelectionFunc
	members    map[string]Symbol
	activated  bool
	lastSelect time.Time
}

// NewUniverse crea un universo con el selector dado; el conjunto de miembros
// empieza vacío hasta la primera selección.
func NewUniverse(name string, kind UniverseKind, settings UniverseSettings, sel SelectionFunc) *Universe {
	return &Universe{
		Name:     name,
		Kind:     kind,
		Settings: settings,
		Select:   sel,
		members:  make(map[string]Symbol),
	}
}

// Members devuelve una copia del conjunto de miembros actuales.
func (u *Universe) Members() []Symbol {
	out := make([]Symbol, 0, len(u.members))
	for _, s := range u.members {
		out = append(out, s)
	}
	return out
}

// Activated devuelve true si la primera selección ya ocurrió.
func (u *Universe) Activated() bool {
	return u.activated
}

// LastSelection devuelve el instante de la última selección aplicada.
func (u *Universe) LastSelection() time.Time {
	return u.lastSelect
}

// ApplySelection difiere el resultado de la función de selección contra los
// miembros actuales y actualiza el conjunto. Devuelve el SecurityChanges
// resultante (spec.md §4.3 "Results").
func (u *Universe) ApplySelection(utcTime time.Time, selected []Symbol) SecurityChanges {
	newSet := make(map[string]Symbol, len(selected))
	for _, s := range selected {
		newSet[s.ID] = s
	}

	changes := SecurityChanges{}
	for id, s := range newSet {
		if _, ok := u.members[id]; !ok {
			changes.Added = append(changes.Added, s)
		}
	}
	for id, s := range u.members {
		if _, ok := newSet[id]; !ok {
			changes.Removed = append(changes.Removed, s)
		}
	}

	u.members = newSet
	u.activated = true
	u.lastSelect = utcTime
	return changes
}
