package state

// Tab identifies one of the dashboard's panels. The set is closed:
// dispatch switches over it exhaustively.
type Tab int

const (
	TabTrending Tab = iota
	TabVolume
	TabLiquidity
	TabNewest
	TabEndingSoon
	TabFavorites
	TabSearch
	TabYield
	TabPortfolio
	tabCount
)

// TabCount returns the number of defined tabs, for cycling.
func TabCount() Tab { return tabCount }

func (t Tab) String() string {
	switch t {
	case TabTrending:
		return "Trending"
	case TabVolume:
		return "Volume"
	case TabLiquidity:
		return "Liquidity"
	case TabNewest:
		return "Newest"
	case TabEndingSoon:
		return "Ending Soon"
	case TabFavorites:
		return "Favorites"
	case TabSearch:
		return "Search"
	case TabYield:
		return "Yield"
	case TabPortfolio:
		return "Portfolio"
	default:
		return "Unknown"
	}
}

// Modal identifies the currently open popup, if any.
type Modal int

const (
	ModalNone Modal = iota
	ModalHelp
	ModalEventDetail
)

func (m Modal) String() string {
	switch m {
	case ModalNone:
		return "None"
	case ModalHelp:
		return "Help"
	case ModalEventDetail:
		return "Event Detail"
	default:
		return "Unknown"
	}
}

// Op identifies a logical background operation guarded by a pending
// flag. At most one request per Op may be in flight.
type Op int

const (
	OpEvents Op = iota
	OpEventBySlug
	OpMore
	OpSearch
	OpYieldSearch
	OpPrices
	OpBook
	OpProfile
	OpPortfolio
	OpFavorites
	OpFavoriteToggle
	opCount
)

// OpCount returns the number of defined operations, for iteration.
func OpCount() Op { return opCount }

func (o Op) String() string {
	switch o {
	case OpEvents:
		return "events"
	case OpEventBySlug:
		return "event_by_slug"
	case OpMore:
		return "more"
	case OpSearch:
		return "search"
	case OpYieldSearch:
		return "yield_search"
	case OpPrices:
		return "prices"
	case OpBook:
		return "book"
	case OpProfile:
		return "profile"
	case OpPortfolio:
		return "portfolio"
	case OpFavorites:
		return "favorites"
	case OpFavoriteToggle:
		return "favorite_toggle"
	default:
		return "unknown"
	}
}
