package observe

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ipcTxTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lightcore_ipc_tx_total",
		Help: "Total IPC messages sent",
	})

	ipcRxTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lightcore_ipc_rx_total",
		Help: "Total IPC messages received",
	})

	ipcTxErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lightcore_ipc_tx_errors_total",
		Help: "Total IPC send failures",
	})

	ipcRxErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lightcore_ipc_rx_errors_total",
		Help: "Total IPC receive errors (bad frames, channel errors)",
	})

	ipcDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lightcore_ipc_dropped_total",
		Help: "Total IPC messages dropped due to RX queue overrun",
	})

	ipcStrayAcksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lightcore_ipc_stray_acks_total",
		Help: "Total late ACK/NACK frames absorbed after a SendSync timeout",
	})

	commissioningWindowsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lightcore_commissioning_windows_total",
		Help: "Total commissioning windows opened",
	})

	rejoinAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lightcore_rejoin_attempts_total",
		Help: "Total Thread rejoin attempts scheduled",
	})

	stateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lightcore_state_transitions_total",
			Help: "Total state machine transitions by core",
		},
		[]string{"core"}, // app|net|thread
	)

	networkHealth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "lightcore_network_health",
		Help: "Current network health (0=unknown 1=poor 2=fair 3=good 4=excellent)",
	})

	disconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lightcore_network_disconnects_total",
		Help: "Total network link-down events",
	})
)

func init() {
	prometheus.MustRegister(
		ipcTxTotal,
		ipcRxTotal,
		ipcTxErrorsTotal,
		ipcRxErrorsTotal,
		ipcDroppedTotal,
		ipcStrayAcksTotal,
		commissioningWindowsTotal,
		rejoinAttemptsTotal,
		stateTransitionsTotal,
		networkHealth,
		disconnectsTotal,
	)
}

func IncIPCTx()                  { ipcTxTotal.Inc() }
func IncIPCRx()                  { ipcRxTotal.Inc() }
func IncIPCTxError()             { ipcTxErrorsTotal.Inc() }
func IncIPCRxError()             { ipcRxErrorsTotal.Inc() }
func IncIPCDropped()             { ipcDroppedTotal.Inc() }
func IncIPCStrayAck()            { ipcStrayAcksTotal.Inc() }
func IncCommissioningWindow()    { commissioningWindowsTotal.Inc() }
func IncRejoinAttempt()          { rejoinAttemptsTotal.Inc() }
func IncTransition(core string)  { stateTransitionsTotal.WithLabelValues(core).Inc() }
func SetNetworkHealth(v float64) { networkHealth.Set(v) }
func IncDisconnect()             { disconnectsTotal.Inc() }
