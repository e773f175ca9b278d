package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"possales/server/internal/models"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
	"gorm.io/gorm"
)

// ErrImportFormat - файл выгрузки не распознан
var ErrImportFormat = errors.New("unsupported sales import format")

// Синонимы заголовков выгрузки продаж
var importHeaders = map[string][]string{
	"date":           {"date", "дата", "sale_date"},
	"sku":            {"sku", "артикул", "code"},
	"product_id":     {"product_id", "id товара"},
	"quantity":       {"quantity", "qty", "количество", "кол-во"},
	"price":          {"price", "цена", "unit_price"},
	"receipt_no":     {"receipt_no", "receipt", "чек", "номер чека"},
	"payment_method": {"payment_method", "payment", "оплата"},
	"discount":       {"discount", "скидка"},
}

var importDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"02.01.2006",
	"02.01.2006 15:04",
	"01/02/2006",
}

// ImportedLine - строка выгрузки; товар задается SKU или ID
type ImportedLine struct {
	SKU       string
	ProductID uint
	Quantity  int
	Price     *decimal.Decimal
}

// ImportedSale - чек из выгрузки (строки с одинаковым номером чека объединяются)
type ImportedSale struct {
	ReceiptNo     string
	Date          time.Time
	PaymentMethod string
	Discount      decimal.Decimal
	Lines         []ImportedLine
	Row           int
}

// ImportSummary - итог импорта
type ImportSummary struct {
	Rows    int      `json:"rows"`
	Sales   int      `json:"sales"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// decodeText приводит файл к UTF-8. Не-UTF-8 файлы читаются как Windows-1251,
// либо в кодировке, заданной явно ("windows-1251", "windows-1252").
func decodeText(data []byte, name string) ([]byte, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	var enc encoding.Encoding
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "windows-1252", "cp1252", "latin1":
		enc = charmap.Windows1252
	case "windows-1251", "cp1251":
		enc = charmap.Windows1251
	case "", "utf-8", "utf8":
		if utf8.Valid(data) {
			return data, nil
		}
		enc = charmap.Windows1251
	default:
		return nil, fmt.Errorf("%w: encoding %q", ErrImportFormat, name)
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return nil, fmt.Errorf("ошибка перекодировки: %w", err)
	}
	return out, nil
}

// detectCSVDelimiter - самый частый из , ; \t | в начале файла
func detectCSVDelimiter(data []byte) rune {
	sample := string(data)
	if len(sample) > 1000 {
		sample = sample[:1000]
	}
	delimiter, best := ',', strings.Count(sample, ",")
	for _, d := range []rune{';', '\t', '|'} {
		if n := strings.Count(sample, string(d)); n > best {
			delimiter, best = d, n
		}
	}
	return delimiter
}

func parseImportDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range importDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("неизвестный формат даты %q", s)
}

func parseImportDecimal(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	return decimal.NewFromString(strings.ReplaceAll(s, ",", "."))
}

// ParseSalesCSV разбирает выгрузку продаж. Обязательные колонки: дата, количество и sku или product_id.
// Ошибочные строки пропускаются и возвращаются списком.
func ParseSalesCSV(data []byte, encodingName string) ([]ImportedSale, []string, error) {
	text, err := decodeText(data, encodingName)
	if err != nil {
		return nil, nil, err
	}
	reader := csv.NewReader(bytes.NewReader(text))
	reader.Comma = detectCSVDelimiter(text)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: ошибка чтения заголовков: %v", ErrImportFormat, err)
	}
	cols := make(map[string]int)
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.Trim(h, "\"'\t")))
		for key, synonyms := range importHeaders {
			for _, syn := range synonyms {
				if h == syn {
					if _, taken := cols[key]; !taken {
						cols[key] = i
					}
				}
			}
		}
	}
	_, hasSKU := cols["sku"]
	_, hasID := cols["product_id"]
	_, hasDate := cols["date"]
	_, hasQty := cols["quantity"]
	if !hasDate || !hasQty || (!hasSKU && !hasID) {
		return nil, nil, fmt.Errorf("%w: нужны колонки date, quantity и sku или product_id", ErrImportFormat)
	}

	get := func(record []string, key string) string {
		i, ok := cols[key]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(strings.Trim(record[i], "\"'\t"))
	}

	var sales []ImportedSale
	byReceipt := make(map[string]int)
	var problems []string
	rowNum := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			problems = append(problems, fmt.Sprintf("строка %d: %v", rowNum, err))
			continue
		}
		if strings.TrimSpace(strings.Join(record, "")) == "" {
			continue
		}

		date, err := parseImportDate(get(record, "date"))
		if err != nil {
			problems = append(problems, fmt.Sprintf("строка %d: %v", rowNum, err))
			continue
		}
		qty, err := strconv.Atoi(get(record, "quantity"))
		if err != nil || qty <= 0 {
			problems = append(problems, fmt.Sprintf("строка %d: некорректное количество %q", rowNum, get(record, "quantity")))
			continue
		}
		line := ImportedLine{SKU: strings.ToUpper(get(record, "sku")), Quantity: qty}
		if raw := get(record, "product_id"); raw != "" {
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				problems = append(problems, fmt.Sprintf("строка %d: некорректный product_id %q", rowNum, raw))
				continue
			}
			line.ProductID = uint(id)
		}
		if line.SKU == "" && line.ProductID == 0 {
			problems = append(problems, fmt.Sprintf("строка %d: товар не указан", rowNum))
			continue
		}
		if raw := get(record, "price"); raw != "" {
			price, err := parseImportDecimal(raw)
			if err != nil || price.IsNegative() {
				problems = append(problems, fmt.Sprintf("строка %d: некорректная цена %q", rowNum, raw))
				continue
			}
			line.Price = &price
		}

		receipt := get(record, "receipt_no")
		if idx, ok := byReceipt[receipt]; ok && receipt != "" {
			sales[idx].Lines = append(sales[idx].Lines, line)
			continue
		}
		sale := ImportedSale{
			ReceiptNo:     receipt,
			Date:          date,
			PaymentMethod: strings.ToLower(get(record, "payment_method")),
			Lines:         []ImportedLine{line},
			Row:           rowNum,
		}
		if sale.PaymentMethod == "" {
			sale.PaymentMethod = models.PaymentCard
		}
		if raw := get(record, "discount"); raw != "" {
			if d, err := parseImportDecimal(raw); err == nil {
				sale.Discount = d
			}
		}
		if receipt != "" {
			byReceipt[receipt] = len(sales)
		}
		sales = append(sales, sale)
	}
	return sales, problems, nil
}

// SalesImporter проводит продажи из CSV-выгрузок касс
type SalesImporter struct {
	db    *gorm.DB
	sales *SalesService
}

// NewSalesImporter создает новый экземпляр SalesImporter
func NewSalesImporter(db *gorm.DB, sales *SalesService) *SalesImporter {
	return &SalesImporter{db: db, sales: sales}
}

// Import разбирает файл и проводит каждый чек отдельной транзакцией.
// Чеки, уже проведенные ранее, пропускаются.
func (im *SalesImporter) Import(data []byte, encodingName string) (*ImportSummary, error) {
	parsed, problems, err := ParseSalesCSV(data, encodingName)
	if err != nil {
		return nil, err
	}
	summary := &ImportSummary{Errors: problems, Skipped: len(problems)}

	skus := make(map[string]uint)
	for _, sale := range parsed {
		summary.Rows += len(sale.Lines)
		for _, l := range sale.Lines {
			if l.SKU != "" {
				skus[l.SKU] = 0
			}
		}
	}
	summary.Rows += len(problems)
	if len(skus) > 0 {
		list := make([]string, 0, len(skus))
		for sku := range skus {
			list = append(list, sku)
		}
		var items []models.Item
		if err := im.db.Select("id, sku").Where("sku IN ?", list).Find(&items).Error; err != nil {
			return nil, fmt.Errorf("ошибка поиска товаров по SKU: %w", err)
		}
		for _, it := range items {
			skus[it.SKU] = it.ID
		}
	}

	for _, sale := range parsed {
		input := SaleInput{
			ReceiptNo:     sale.ReceiptNo,
			Date:          sale.Date,
			Discount:      sale.Discount,
			PaymentMethod: sale.PaymentMethod,
			ExactAmount:   true,
		}
		var missing string
		for _, l := range sale.Lines {
			id := l.ProductID
			if id == 0 {
				id = skus[l.SKU]
			}
			if id == 0 {
				missing = l.SKU
				break
			}
			input.Items = append(input.Items, SaleLineInput{ProductID: id, Quantity: l.Quantity, Price: l.Price})
		}
		if missing != "" {
			summary.Skipped++
			summary.Errors = append(summary.Errors, fmt.Sprintf("строка %d: товар с SKU %s не найден", sale.Row, missing))
			continue
		}

		if _, err := im.sales.RecordSale(input); err != nil {
			summary.Skipped++
			if !errors.Is(err, ErrDuplicateReceipt) {
				summary.Errors = append(summary.Errors, fmt.Sprintf("строка %d: %v", sale.Row, err))
			}
			continue
		}
		summary.Sales++
	}

	log.Printf("📥 Импорт продаж: строк %d, чеков проведено %d, пропущено %d", summary.Rows, summary.Sales, summary.Skipped)
	return summary, nil
}
