/*
Package service runs the background machinery around the dispatcher and the
registrar.

Probing:
The HealthChecker issues one probe per eligible destination every interval.
Probes run concurrently, rate limited when a limit is configured, and their
outcomes are handed to a single consumer that applies them to the state
machine in arrival order.

	hc := service.NewHealthChecker(service.HealthCheckConfig{
		Interval: 10 * time.Second,
		Timeout:  5 * time.Second,
		Defaults: dispatcher.ProbeDefaults{From: "sip:dispatcher@localhost"},
	}, ds, prober, log)
	if err := hc.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer hc.Stop()

List Watching:
The ListWatcher reloads the destination list when the list file changes.
A failed reload keeps the active list.

	w := service.NewListWatcher("dispatcher.list", reload, 0, log)
	go w.Run(ctx)

Maintenance:
Maintenance schedules call-load expiry, the registrar expiry sweep and the
DNS refresh on a cron scheduler.

Metrics:
Metrics implements domain.Metrics with prometheus collectors on a private
registry; Handler serves it.

Health:
HealthServer reports SERVING over the gRPC health protocol while at least
one destination is routable.
*/
package service
