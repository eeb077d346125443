// Package ports declara los límites externos que el núcleo de ingestión y
// sincronización consume, nunca implementa directamente (spec.md §1 "External
// interfaces"). Los adaptadores concretos viven en internal/adapters/*.
package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/marketfeed/internal/domain"
)

// TimeProvider entrega la hora UTC actual. En modo live lo implementa un
// reloj del sistema; en modo determinista (tests, backtests) un
// ManualTimeProvider lo sustituye sin cambiar el resto del motor.
type TimeProvider interface {
	UtcNow() time.Time
}

// OnDataAvailable es el callback que un DataQueueHandler invoca por cada
// BaseData bruto que produce para una configuración dada.
type OnDataAvailable func(domain.BaseData)

// JobDescriptor recibe credenciales, URLs de feed y la lista serializada de
// handlers con nombre a componer (spec.md §6 "set_job").
type JobDescriptor struct {
	HandlerNames []string
	Credentials  map[string]string
	FeedURLs     map[string]string
}

// DataQueueHandler es la interfaz que el núcleo consume de cada productor de
// datos en vivo (broker, exchange, feed). Puede componerse: un
// DataQueueHandler puede internamente multiplexar varios handlers con nombre
// (adapters/queue.Composite) de forma que el fallo de uno en SetJob no
// impida que los demás sirvan datos (spec.md §6).
type DataQueueHandler interface {
	// Subscribe registra config y devuelve true si el handler puede servir
	// ese símbolo/tipo de dato; los datos entregados llegan vía onData,
	// nunca por valor de retorno (el feed es push, no pull, a este nivel).
	Subscribe(config domain.SubscriptionDataConfig, onData OnDataAvailable) (bool, error)
	// Unsubscribe detiene el envío de datos para config.
	Unsubscribe(config domain.SubscriptionDataConfig) error
	// SetJob entrega credenciales/URLs al handler antes de la primera Subscribe.
	SetJob(job JobDescriptor) error
	// LookupSymbols expande un símbolo canónico (cadena de opciones/futuros)
	// a la lista de contratos tradables, opcionalmente incluyendo expirados.
	LookupSymbols(canonical domain.Symbol, includeExpired bool) ([]domain.Symbol, error)
	// CanPerformSelection indica si el estado actual del mercado permite
	// ejecutar una selección de universo (p.ej. exchange abierto).
	CanPerformSelection() bool
}

// MapFileProvider resuelve el historial de tickers (renombres de símbolo) de
// un símbolo en una fecha dada.
type MapFileProvider interface {
	GetFor(symbol domain.Symbol, date time.Time) (MapFileRow, error)
}

// MapFileRow es la entrada de mapeo de ticker vigente en una fecha.
type MapFileRow struct {
	Date        time.Time
	MappedTicker string
}

// FactorFileProvider resuelve los factores de ajuste por splits/dividendos de
// un símbolo en una fecha dada.
type FactorFileProvider interface {
	GetFor(symbol domain.Symbol, date time.Time) (FactorFileRow, error)
}

// FactorFileRow son los factores de ajuste vigentes en una fecha.
type FactorFileRow struct {
	Date         time.Time
	PriceFactor  float64
	SplitFactor  float64
}

// HistoryRequest describe un rango histórico solicitado para warmup o para
// datos a nivel de barra no disponibles en la cola en vivo.
type HistoryRequest struct {
	Symbol     domain.Symbol
	Resolution domain.Resolution
	TickType   domain.TickType
	Start      time.Time
	End        time.Time
}

// HistoryProvider sirve datos históricos para warmup (spec.md §4.4, §6).
type HistoryProvider interface {
	// GetHistory devuelve, en orden de tiempo ascendente, los TimeSlice que
	// cubren las requests dadas, con los tiempos expresados en sliceTimeZone.
	GetHistory(ctx context.Context, requests []HistoryRequest, sliceTimeZone *time.Location) (<-chan *domain.TimeSlice, error)
}

// ExchangeHours conoce el horario de apertura/cierre (incluyendo sesión
// extendida) y la zona horaria de un mercado (spec.md §2 "Exchange calendar").
type ExchangeHours interface {
	// IsOpen indica si el mercado de symbol está abierto en el instante utc.
	// extended controla si la sesión extendida cuenta como abierta.
	IsOpen(symbol domain.Symbol, utc time.Time, extended bool) bool
	// NextMarketOpen devuelve la siguiente apertura de sesión primaria
	// estrictamente posterior a after.
	NextMarketOpen(symbol domain.Symbol, after time.Time) time.Time
	// NextMarketClose devuelve el siguiente cierre de sesión primaria
	// estrictamente posterior a after.
	NextMarketClose(symbol domain.Symbol, after time.Time) time.Time
	// TimeZone devuelve la zona horaria del mercado del símbolo.
	TimeZone(symbol domain.Symbol) *time.Location
}

// Notifier presenta el estado del motor a un operador humano (diagnóstico,
// nunca parte del camino caliente). Ver internal/adapters/notify/console.
type Notifier interface {
	Notify(ctx context.Context, slice *domain.TimeSlice) error
}

// CustomDataReader produce registros domain.CustomData para symbol desde
// una fuente externa (p.ej. un endpoint REST) ajena a cualquier
// DataQueueHandler. El núcleo lo invoca a lo sumo una vez por intervalo
// programado (spec.md §5 "Per-poll timeouts on external HTTP/rest custom
// data"), nunca en un bucle ajustado tras un fallo.
type CustomDataReader interface {
	Read(ctx context.Context, symbol domain.Symbol) ([]domain.CustomData, error)
}
