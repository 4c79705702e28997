package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// VehicleRow is one row of the vehicle master CSV:
// plate_number,legal_max_kg,tolerance_value,tolerance_unit,transport_company,truck_class
type VehicleRow struct {
	PlateNumber      string
	LegalMaxKg       float64
	ToleranceValue   float64
	ToleranceUnit    string
	TransportCompany string
	TruckClass       string
}

type upsertRequest struct {
	PlateNumber      string  `json:"plate_number"`
	LegalMaxKg       float64 `json:"legal_max_kg"`
	ToleranceValue   float64 `json:"tolerance_value,omitempty"`
	ToleranceUnit    string  `json:"tolerance_unit,omitempty"`
	TransportCompany string  `json:"transport_company,omitempty"`
	TruckClass       string  `json:"truck_class,omitempty"`
}

var (
	serviceURL = "http://localhost:8080"

	// Auth token for the tonnage service (replace with actual token)
	authToken = ""
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run import_vehicles.go <path-to-csv> [service-url]")
		fmt.Println("Example: go run import_vehicles.go vehicles.csv https://tonnage.example.com")
		os.Exit(1)
	}

	csvPath := os.Args[1]
	if len(os.Args) > 2 {
		serviceURL = strings.TrimRight(os.Args[2], "/")
	}

	if authToken == "" {
		fmt.Print("Enter auth token (Bearer token): ")
		fmt.Scanln(&authToken)
	}

	fmt.Println("Step 1: Reading CSV file...")
	rows, err := readCSV(csvPath)
	if err != nil {
		fmt.Printf("Error reading CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Read %d rows from CSV\n", len(rows))

	fmt.Println("\nStep 2: Upserting vehicles...")
	successCount := 0
	failCount := 0
	for i, row := range rows {
		if err := upsertVehicle(row); err != nil {
			fmt.Printf("  ✗ Row %d/%d (%s) failed: %v\n", i+1, len(rows), row.PlateNumber, err)
			failCount++
			continue
		}
		fmt.Printf("  ✓ Row %d/%d (%s, %.0f kg)\n", i+1, len(rows), row.PlateNumber, row.LegalMaxKg)
		successCount++
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("SUMMARY")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("  Total rows:   %d\n", len(rows))
	fmt.Printf("  Upserted:     %d\n", successCount)
	fmt.Printf("  Failed:       %d\n", failCount)
	if failCount > 0 {
		os.Exit(1)
	}
}

func readCSV(path string) ([]VehicleRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	// Skip header
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var rows []VehicleRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}

		if len(record) < 2 || strings.TrimSpace(record[0]) == "" {
			continue
		}

		row := VehicleRow{PlateNumber: strings.TrimSpace(record[0])}

		row.LegalMaxKg, err = strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid legal_max_kg for plate %q: %w", row.PlateNumber, err)
		}

		if len(record) > 2 {
			if tol := strings.TrimSpace(record[2]); tol != "" {
				if parsed, err := strconv.ParseFloat(tol, 64); err == nil {
					row.ToleranceValue = parsed
				}
			}
		}
		if len(record) > 3 {
			row.ToleranceUnit = strings.TrimSpace(record[3])
		}
		if len(record) > 4 {
			row.TransportCompany = strings.TrimSpace(record[4])
		}
		if len(record) > 5 {
			row.TruckClass = strings.TrimSpace(record[5])
		}

		rows = append(rows, row)
	}

	return rows, nil
}

func upsertVehicle(row VehicleRow) error {
	payload := upsertRequest{
		PlateNumber:      row.PlateNumber,
		LegalMaxKg:       row.LegalMaxKg,
		ToleranceValue:   row.ToleranceValue,
		ToleranceUnit:    row.ToleranceUnit,
		TransportCompany: row.TransportCompany,
		TruckClass:       row.TruckClass,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest("POST", serviceURL+"/api/v1/vehicles", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+authToken)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
