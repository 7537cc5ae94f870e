package controller

import (
	"net/http"
	"strings"
	"time"

	"stationwatch/internal/modules/weather/types"
	"stationwatch/internal/utils"
)

type ingestRequest struct {
	StationID string `json:"stationId"`
	types.MeasurementFields
}

type ingestResponse struct {
	Message string `json:"message"`
	types.IngestResult
}

type createStationRequest struct {
	Name     string  `json:"name"`
	Location *string `json:"location"`
}

func (c *weatherControllerImpl) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	stationID := strings.TrimSpace(req.StationID)
	if stationID == "" {
		utils.WriteError(w, http.StatusBadRequest, "stationId is required")
		return
	}

	ok, err := c.stations.Exists(r.Context(), stationID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !ok {
		utils.WriteError(w, http.StatusNotFound, "station not found")
		return
	}

	res, err := c.ingest.RecordReading(r.Context(), stationID, req.MeasurementFields)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, ingestResponse{
		Message:      "measurement recorded",
		IngestResult: res,
	})
}

func (c *weatherControllerImpl) handleListStations(w http.ResponseWriter, r *http.Request) {
	stations, err := c.stations.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, stations)
}

func (c *weatherControllerImpl) handleCreateStation(w http.ResponseWriter, r *http.Request) {
	var req createStationRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	station, err := c.stations.Create(r.Context(), actor(r), req.Name, req.Location)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, station)
}

func (c *weatherControllerImpl) handleGetStation(w http.ResponseWriter, r *http.Request) {
	station, err := c.stations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, station)
}

func (c *weatherControllerImpl) handleDeleteStation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := c.stations.DeleteStation(r.Context(), id, actor(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !ok {
		utils.WriteError(w, http.StatusNotFound, "station not found")
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]string{"message": "station deleted", "id": id})
}

func (c *weatherControllerImpl) handleReadings(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	period := types.ParsePeriod(r.URL.Query().Get("period"))

	from, to, explicit, err := parseRange(r, time.Now().UTC(), period)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var readings []types.Reading
	if explicit {
		readings, err = c.stations.ReadingsBetween(r.Context(), id, from, to)
	} else {
		readings, err = c.stations.Readings(r.Context(), id, period)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, readings)
}

func (c *weatherControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	reading, err := c.stations.LatestReading(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, reading)
}

func (c *weatherControllerImpl) handleReadingStats(w http.ResponseWriter, r *http.Request) {
	period := types.ParsePeriod(r.URL.Query().Get("period"))
	stats, err := c.stations.ReadingStats(r.Context(), r.PathValue("id"), period)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, stats)
}

func (c *weatherControllerImpl) handleStationAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAlertFilter(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	alerts, err := c.alerts.StationAlerts(r.Context(), r.PathValue("id"), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, alerts)
}

func (c *weatherControllerImpl) handleCriticalAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	alerts, err := c.alerts.CriticalAlerts(r.Context(), limit, actor(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, alerts)
}

func (c *weatherControllerImpl) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	stats, err := c.alerts.Stats(r.Context(), strings.TrimSpace(r.URL.Query().Get("station_id")))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, stats)
}

func (c *weatherControllerImpl) handleResolve(w http.ResponseWriter, r *http.Request) {
	alert, err := c.alerts.Resolve(r.Context(), r.PathValue("id"), actor(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, alert)
}
