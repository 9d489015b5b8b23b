package auth

// Redirect destinations used by the route guards.
const (
	LoginPath      = "/login"
	AdminLoginPath = "/admin/login"
	LandingPath    = "/dashboard"
)

// Outcome is the render-or-redirect result of a guard evaluation.
type Outcome int

const (
	// OutcomePending means at least one predicate is still loading; render a loading indicator.
	OutcomePending Outcome = iota
	// OutcomeRedirect means navigate to Decision.Location, replacing history.
	OutcomeRedirect
	// OutcomeRender means render the protected content unchanged.
	OutcomeRender
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeRender:
		return "render"
	default:
		return "unknown"
	}
}

// Decision is a single guard verdict. Location is set only for OutcomeRedirect.
type Decision struct {
	Outcome  Outcome
	Location string
}

// Pending reports whether no decision has been reached yet.
func (d Decision) Pending() bool { return d.Outcome == OutcomePending }

// DecidePlain evaluates the protected-route guard. No redirect is issued while
// auth is loading, even when an identity is already cached.
func DecidePlain(a AuthState) Decision {
	switch {
	case a.Loading:
		return Decision{Outcome: OutcomePending}
	case a.Identity == nil:
		return Decision{Outcome: OutcomeRedirect, Location: LoginPath}
	default:
		return Decision{Outcome: OutcomeRender}
	}
}

// DecideAdmin evaluates the admin-route guard over both predicates.
// Unauthenticated visitors go to the admin sign-in page; signed-in non-admins
// go to the landing page.
func DecideAdmin(a AuthState, r AdminState) Decision {
	switch {
	case a.Loading || r.Loading:
		return Decision{Outcome: OutcomePending}
	case a.Identity == nil:
		return Decision{Outcome: OutcomeRedirect, Location: AdminLoginPath}
	case !r.IsAdmin:
		return Decision{Outcome: OutcomeRedirect, Location: LandingPath}
	default:
		return Decision{Outcome: OutcomeRender}
	}
}
