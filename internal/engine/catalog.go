package engine

// Catalog is the ordered list of songs on the ballot. Index is identity.
type Catalog []string

var FestivalSongs = Catalog{
	"Bombazine – Apago Tudo",
	"Margarida Campelo – Eu sei que o amor",
	"HENKA – I Wanna Destroy U",
	"Bluay – Ninguém",
	"Jéssica Pina – Calafrio",
	"Marco Rodrigues – A minha casa",
	"NAPA – Deslocado",
	"Peculiar – Adamastor",
	"Fernando Daniel – Medo",
	"Emmy Curl – Rapsódia da Paz",
	"JOSH – Tristeza",
	"Diana Vilarinho – Cotovia",
}

// MaxRank is the highest rank value a ballot on this catalog accepts.
func (c Catalog) MaxRank() int { return len(c) }

func (c Catalog) Song(i int) (string, bool) {
	if i < 0 || i >= len(c) {
		return "", false
	}
	return c[i], true
}
