/*
Package resilience provides a circuit breaker for things that fail repeatedly,
such as a process that keeps crashing right after it is started.

Callers claim an attempt with Allow and report how it went with Record. After
enough failures the breaker opens and refuses attempts for the cooldown, then
lets a single probe through. A successful probe closes it again; a failed one
reopens it.

	breaker := resilience.New("rerun", resilience.Settings{
		Cooldown: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	if err := breaker.Allow(); err == nil {
		breaker.Record(run() == nil)
	}

States:

	Closed --[failures]-> Open --[cooldown]-> Half-Open --[success]-> Closed
	                                             |
	                                         [failure]
	                                             v
	                                           Open
*/
package resilience
