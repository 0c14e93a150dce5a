package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики рантайма.
var (
	// RunsTotal — завершённые run по причине завершения.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowbot_runs_total",
		Help: "Finished flow runs by terminal reason",
	}, []string{"reason"})

	// NodeDuration — длительность исполнения узла по виду.
	NodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowbot_node_duration_seconds",
		Help:    "Node execution duration by node kind",
		Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
	}, []string{"kind"})

	// NodeFailures — упавшие узлы по виду.
	NodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowbot_node_failures_total",
		Help: "Failed node executions by node kind",
	}, []string{"kind"})

	// ConditionErrors — некорректные условия маршрутов при исполнении.
	ConditionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowbot_condition_errors_total",
		Help: "Malformed router conditions evaluated at runtime",
	})

	// ActiveRuns — run, исполняемые в данный момент.
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowbot_active_runs",
		Help: "Flow runs currently executing",
	})
)

// Метрики внешних вызовов.
var (
	// CollaboratorRequests — вызовы коллабораторов по исходу (ok, error, open).
	CollaboratorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowbot_collaborator_requests_total",
		Help: "Requests to external collaborators by outcome",
	}, []string{"collaborator", "outcome"})

	// OutboundDelivered — доставка исходящих сообщений worker'ом.
	OutboundDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowbot_outbound_delivered_total",
		Help: "Outbound messages handled by the delivery worker by outcome",
	}, []string{"outcome"})
)

// MaintenancePurged — записи, удалённые обслуживанием, по таблице.
var MaintenancePurged = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flowbot_maintenance_purged_total",
	Help: "Rows removed by retention maintenance by table",
}, []string{"table"})

// APIRequests — HTTP запросы API по методу, маршруту и статусу.
var APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flowbot_api_http_requests_total",
	Help: "HTTP requests served by the API by method, route and status",
}, []string{"method", "route", "status"})

// MQReconnects — восстановления соединения с RabbitMQ по типу (connection, channel).
var MQReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flowbot_mq_reconnects_total",
	Help: "RabbitMQ connection and channel recoveries",
}, []string{"kind"})

// MQDeliveries — обработанные доставки по очереди и исходу (ack, requeue, reject).
var MQDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "flowbot_mq_deliveries_total",
	Help: "Queue deliveries by queue and outcome",
}, []string{"queue", "outcome"})
