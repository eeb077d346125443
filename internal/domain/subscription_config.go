package domain

import "fmt"

// DataNormalizationMode controla cómo se ajustan los precios históricos de un símbolo.
type DataNormalizationMode string

const (
	NormalizationRaw                  DataNormalizationMode = "Raw"
	NormalizationAdjusted             DataNormalizationMode = "Adjusted"
	NormalizationTotalReturn          DataNormalizationMode = "TotalReturn"
	NormalizationBackwardsRatio       DataNormalizationMode = "BackwardsRatio"
	NormalizationBackwardsPanama      DataNormalizationMode = "BackwardsPanamaCanal"
	NormalizationForwardPanama        DataNormalizationMode = "ForwardPanamaCanal"
)

// DataMappingMode controla qué contrato de una cadena continua está "mapped".
type DataMappingMode string

const (
	MappingLastTradingDay DataMappingMode = "LastTradingDay"
	MappingFirstDayMonth  DataMappingMode = "FirstDayMonth"
	MappingOpenInterest   DataMappingMode = "OpenInterest"
)

// FilterSuspiciousTicks resuelve la pregunta abierta de spec.md §9 sobre si los
// ticks con Suspicious=true deben filtrarse en resoluciones >= Second.
type FilterSuspiciousTicks string

const (
	FilterSuspiciousAlways  FilterSuspiciousTicks = "always"
	FilterSuspiciousNever   FilterSuspiciousTicks = "never"
	FilterSuspiciousNonTick FilterSuspiciousTicks = "non_tick" // default
)

// SubscriptionDataConfig describe una solicitud de datos para un símbolo:
// resolución, tipo de dato, zona horaria y flags de comportamiento.
//
// Invariantes (spec.md §3):
//   - TickType debe ser compatible con DataType (una QuoteBar requiere TickQuote,
//     una TradeBar requiere TickTrade; Tick acepta ambos).
//   - Resolution >= ResolutionTick siempre se cumple por construcción (es el valor cero).
type SubscriptionDataConfig struct {
	Symbol               Symbol
	Resolution           Resolution
	TickType             TickType
	ExchangeTimeZone     string
	DataTimeZone         string
	FillForward          bool
	ExtendedMarketHours  bool
	IsInternal           bool
	FilterSuspicious     FilterSuspiciousTicks
	NormalizationMode    DataNormalizationMode
	MappingMode          DataMappingMode
	ContractDepthOffset  int
	DailyPreciseEndTime  bool
	MinimumTimeInUniverse int64 // segundos; 0 = sin mínimo
}

// Key es la clave de enrutamiento (symbol, tick_type, resolution) usada por
// el Aggregation Manager para mapear a un consolidador. DataType en spec.md
// se deriva de TickType+Resolution: no se modela como campo aparte porque en
// este motor TradeBar/QuoteBar/Tick son inferidos por el consolidador, no
// elegidos por el llamante.
type ConfigKey struct {
	SymbolID   string
	TickType   TickType
	Resolution Resolution
}

// Key devuelve la clave de enrutamiento de este config.
func (c SubscriptionDataConfig) Key() ConfigKey {
	return ConfigKey{SymbolID: c.Symbol.ID, TickType: c.TickType, Resolution: c.Resolution}
}

// Validate aplica las restricciones de spec.md §4.1: el símbolo debe ser
// resoluble y no canónico, y el filtro de sospechosos debe tener un valor reconocido.
func (c SubscriptionDataConfig) Validate() error {
	if c.Symbol.ID == "" {
		return fmt.Errorf("subscription_config: empty symbol")
	}
	if c.Symbol.IsCanonical() {
		return fmt.Errorf("subscription_config: %s is a canonical symbol, not directly subscribable", c.Symbol.ID)
	}
	switch c.FilterSuspicious {
	case "", FilterSuspiciousAlways, FilterSuspiciousNever, FilterSuspiciousNonTick:
	default:
		return fmt.Errorf("subscription_config: unknown filter_suspicious_ticks %q", c.FilterSuspicious)
	}
	return nil
}

// String es la representación usada en logs, análoga a la de un Market en el
// scanner de referencia.
func (c SubscriptionDataConfig) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Symbol.ID, c.TickType, c.Resolution)
}
