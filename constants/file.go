package constants

// DocumentExt is the only input extension, compared case-insensitively.
const DocumentExt = ".pdf"

// TempPrefix marks workbook files being written next to their target.
const TempPrefix = ".intrastat-"
