package api

import (
	"net/http"
	"strings"
)

// Template is a per-game starting configuration. The control plane treats
// the contents as opaque defaults copied onto a new server.
type Template struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	GameType string            `json:"game_type"`
	Image    string            `json:"docker_image"`
	Port     int               `json:"port"`
	Env      map[string]string `json:"env_vars"`
	DataPath string            `json:"data_path"`
}

var catalog = []Template{
	{
		ID:       "minecraft",
		Name:     "Minecraft",
		GameType: "minecraft",
		Image:    "itzg/minecraft-server:latest",
		Port:     25565,
		Env:      map[string]string{"EULA": "TRUE", "MEMORY": "4G"},
		DataPath: "/data",
	},
	{
		ID:       "valheim",
		Name:     "Valheim",
		GameType: "valheim",
		Image:    "lloesche/valheim-server",
		Port:     2456,
		Env:      map[string]string{"SERVER_NAME": "Valheim", "WORLD_NAME": "Dedicated"},
		DataPath: "/config",
	},
	{
		ID:       "factorio",
		Name:     "Factorio",
		GameType: "factorio",
		Image:    "factoriotools/factorio:stable",
		Port:     34197,
		Env:      map[string]string{},
		DataPath: "/factorio",
	},
	{
		ID:       "terraria",
		Name:     "Terraria",
		GameType: "terraria",
		Image:    "ryshe/terraria:latest",
		Port:     7777,
		Env:      map[string]string{"WORLD_FILENAME": "world.wld"},
		DataPath: "/root/.local/share/Terraria/Worlds",
	},
}

func templateByID(id string) *Template {
	for i := range catalog {
		if catalog[i].ID == id {
			return &catalog[i]
		}
	}
	return nil
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	search := strings.ToLower(r.URL.Query().Get("search"))

	out := make([]Template, 0, len(catalog))
	for _, tmpl := range catalog {
		if search != "" && !strings.Contains(strings.ToLower(tmpl.Name), search) && !strings.Contains(tmpl.ID, search) {
			continue
		}
		out = append(out, tmpl)
	}

	writeJSON(w, http.StatusOK, out)
}
