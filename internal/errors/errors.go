// Package errors define la taxonomía de errores del núcleo (spec.md §7). Un
// Kind solo etiqueta la causa: quien crea el error lo devuelve o lo registra,
// y ningún Kind cambia por sí mismo el estado del runtime ni termina el
// stream del Synchronizer. Los Fatal capturan una pila mediante
// github.com/pkg/errors para facilitar el diagnóstico post-mortem.
package errors

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind clasifica un error del núcleo según spec.md §7.
type Kind string

const (
	// SubscriptionRejected: config inválido (p.ej. mercado desconocido);
	// se devuelve al llamante sin mutar estado.
	SubscriptionRejected Kind = "SubscriptionRejected"
	// ProducerFailure: un DataQueueHandler rechazó o falló una suscripción;
	// DataFeed.Subscribe lo devuelve al llamante. No hay estado de error de
	// runtime y el stream del Synchronizer sigue abierto.
	ProducerFailure Kind = "ProducerFailure"
	// ReaderFailure: un lector de datos personalizados lanzó o devolvió un
	// registro malformado; se registra en el log y se vuelve a invocar en el
	// siguiente intervalo programado. No se lleva un contador de fallos.
	ReaderFailure Kind = "ReaderFailure"
	// HistoryUnavailable: una request de historia falló; se registra en el
	// log, se omite, y el warmup continúa con las demás requests.
	HistoryUnavailable Kind = "HistoryUnavailable"
	// ChainLookupFailure: el proveedor de cadenas no devolvió nada para un
	// símbolo canónico. Ningún componente de este módulo produce este Kind.
	ChainLookupFailure Kind = "ChainLookupFailure"
	// Fatal: el reloj retrocedió, la frontera no puede avanzar, o se violó
	// un invariante. En este módulo solo ManualTimeProvider.SetUtcNow lo
	// produce, como panic; no hay un estado de error de runtime.
	Fatal Kind = "Fatal"
)

// Error envuelve una causa con su Kind y un contexto textual, en el mismo
// estilo de prefijo ("paquete.función: contexto: %w") que usa el resto del
// motor con fmt.Errorf.
type Error struct {
	Kind    Kind
	Context string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Context, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// New construye un *Error de un Kind no-Fatal, sin captura de pila: se ajusta
// al resto del motor, que ya usa fmt.Errorf con %w en sus paquetes.
func New(kind Kind, context string, cause error) *Error {
	return &Error{Kind: kind, Context: context, Cause: cause}
}

// Fatalf construye un *Error de Kind Fatal con la pila capturada en el punto
// de creación vía pkg/errors, para que un panic recovery o un log de nivel
// Error en el llamante incluya el stack trace completo hasta la causa raíz.
func Fatalf(format string, args ...any) *Error {
	cause := pkgerrors.New(fmt.Sprintf(format, args...))
	return &Error{Kind: Fatal, Context: "fatal", Cause: cause}
}

// WrapFatal envuelve cause como Fatal, capturando una pila adicional en este
// punto con pkg/errors.Wrap para preservar la cadena de causalidad.
func WrapFatal(cause error, context string) *Error {
	return &Error{Kind: Fatal, Context: context, Cause: pkgerrors.Wrap(cause, context)}
}

// Is permite usar errors.Is(err, errors.ProducerFailure) comparando por Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
